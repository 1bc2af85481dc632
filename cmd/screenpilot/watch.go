package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		extensions     []string
		debounce       time.Duration
		deleteOnRemove bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest a directory's text files and keep them in sync",
		Long: `Ingest every matching file in dir, then re-ingest files as they are
written until interrupted.

Example:
  screenpilot watch ~/notes --ext .md --delete-on-remove`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := watcher.New(args[0], a.pipeline, watcher.Options{
				Extensions:     extensions,
				Debounce:       debounce,
				DeleteOnRemove: deleteOnRemove,
			}, a.logger.Underlying().Named("watcher"))
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			a.logger.Info(ctx, "watching directory", zap.String("dir", args[0]))

			<-ctx.Done()
			w.Stop()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "file extensions to ingest (default .txt,.md)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before a changed file is ingested (default 300ms)")
	cmd.Flags().BoolVar(&deleteOnRemove, "delete-on-remove", false, "remove a file's chunks when it is deleted")
	return cmd
}
