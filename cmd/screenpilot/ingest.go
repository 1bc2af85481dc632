package main

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/screenpilot/internal/logging"
	"github.com/fyrsmithlabs/screenpilot/internal/watcher"
)

const maxIngestBytes = 10 << 20

func newIngestCmd() *cobra.Command {
	var (
		sourceRef string
		list      bool
		remove    string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Add documents to the corpus",
		Long: `Chunk, embed and store text files. Re-ingesting a file replaces its chunks.

Examples:
  screenpilot ingest notes.md design.txt

  # Read stdin under an explicit source ref
  curl -s https://example.com/page.txt | screenpilot ingest - --source-ref example-page

  # Inspect and prune the corpus
  screenpilot ingest --list
  screenpilot ingest --delete file:notes.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && remove == "" && len(args) == 0 {
				return fmt.Errorf("nothing to do: pass files, - for stdin, --list or --delete")
			}
			if sourceRef != "" && len(args) != 1 {
				return fmt.Errorf("--source-ref needs exactly one input")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{logTarget: logging.TargetStderr})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if remove != "" {
				if err := a.pipeline.DeleteDocument(ctx, remove); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", okStyle.Render("deleted"), remove)
			}

			for _, arg := range args {
				text, ref, err := readInput(cmd.InOrStdin(), arg)
				if err != nil {
					return err
				}
				if sourceRef != "" {
					ref = sourceRef
				}
				res, err := a.pipeline.Ingest(ctx, text, ref)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				fmt.Fprint(out, renderIngest(res))
			}

			if list {
				docs, err := a.pipeline.Documents(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(out, renderDocuments(docs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceRef, "source-ref", "", "source ref to store a single input under")
	cmd.Flags().BoolVar(&list, "list", false, "list stored documents")
	cmd.Flags().StringVar(&remove, "delete", "", "remove every chunk of this source ref")
	return cmd
}

// readInput reads arg ("-" for stdin) as UTF-8 text and returns it with
// its default source ref. Files use the same refs as the watcher.
func readInput(stdin io.Reader, arg string) (string, string, error) {
	var (
		r   io.Reader
		ref string
	)
	if arg == "-" {
		r, ref = stdin, "stdin"
	} else {
		f, err := os.Open(arg)
		if err != nil {
			return "", "", err
		}
		defer f.Close()
		r, ref = f, watcher.SourceRef(arg)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxIngestBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	if len(data) > maxIngestBytes {
		return "", "", fmt.Errorf("%s is larger than %d bytes", arg, maxIngestBytes)
	}
	if !utf8.Valid(data) {
		return "", "", fmt.Errorf("%s is not UTF-8 text", arg)
	}
	return string(data), ref, nil
}
