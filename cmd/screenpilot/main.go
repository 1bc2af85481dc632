// Screenpilot answers questions about the documents and pages a user is
// reading, using retrieval over a local or Qdrant-backed vector store.
//
// Usage:
//
//	# Start the HTTP API on :8000
//	screenpilot serve
//
//	# Add a file to the corpus and ask about it
//	screenpilot ingest notes.md
//	screenpilot ask "what did we decide about pricing?"
//
//	# Serve the tools to an MCP client over stdio
//	screenpilot mcp
//
// Configuration comes from an optional YAML file (--config) and
// SCREENPILOT_* environment variables.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "screenpilot",
		Short: "Research copilot for the documents on your screen",
		Long: `screenpilot ingests documents into a vector store and answers questions
from them with an OpenAI-compatible model, falling back to Gemini or Claude.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newAskCmd(),
		newMCPCmd(),
		newWatchCmd(),
		newMonitorCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "screenpilot by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// defaultConfigPath returns ~/.config/screenpilot/config.yaml. Load skips
// it when it does not exist.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "screenpilot", "config.yaml")
}
