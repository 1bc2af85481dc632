package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/screenpilot/internal/monitor"
)

func newMonitorCmd() *cobra.Command {
	var (
		serverURL string
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live dashboard of a running server",
		Long: `Poll a running screenpilot server and show its health, corpus, vector
store activity and memory use.

Example:
  screenpilot monitor --server http://localhost:8000 --interval 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := tea.NewProgram(monitor.NewModel(serverURL, interval), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "screenpilot server URL")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}
