package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/screenpilot/internal/logging"
)

func newAskCmd() *cobra.Command {
	var (
		topK        int
		secondary   bool
		contextFile string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the ingested documents",
		Long: `Answer a question from the ingested documents.

Examples:
  screenpilot ask "what colour is the sky?"

  # Treat a file as the page being read: it is ingested first
  screenpilot ask --context-file page.txt "summarise this"

  # Skip the primary provider
  screenpilot ask --secondary "what colour is the grass?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			var page string
			if contextFile != "" {
				data, err := os.ReadFile(contextFile)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", contextFile, err)
				}
				page = string(data)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{logTarget: logging.TargetStderr})
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.pipeline.AskWithContext(ctx, question, page, topK, secondary)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderAnswer(resp))
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of excerpts to retrieve (default 3)")
	cmd.Flags().BoolVar(&secondary, "secondary", false, "answer with the secondary provider")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "file to ingest as page context before answering")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response as JSON")
	return cmd
}
