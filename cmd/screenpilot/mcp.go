package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/screenpilot/internal/logging"
	"github.com/fyrsmithlabs/screenpilot/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over MCP on stdio",
		Long: `Serve ask, ingest, list_documents and delete_document as MCP tools on
stdin/stdout. Logs go to stderr.

Example client entry:
  {"command": "screenpilot", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{logTarget: logging.TargetStderr})
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "screenpilot",
				Version: version,
				Logger:  a.logger.Underlying().Named("mcp"),
			}, a.registry)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
