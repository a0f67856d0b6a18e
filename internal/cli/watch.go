package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/edge-events/internal/ledger"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/pipeline"
	"github.com/GabrielNunesIT/edge-events/internal/source"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd(flags *rootFlags) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest log files dropped into a local directory",
		Long: `Watch a directory for access log files and ingest each one as it
appears. A file at <dir>/<bucket>/<key> is ingested as bucket and key.

Ingested files are recorded in the ledger so a restart does not ingest
them again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()
			if dir != "" {
				a.cfg.Watch.Dir = dir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.watchConfig(ctx, flags)

			return runWatch(ctx, a)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (overrides watch.dir)")
	return cmd
}

func runWatch(ctx context.Context, a *app) error {
	l, err := ledger.New(ctx, a.cfg.Ledger)
	if err != nil {
		return err
	}
	defer l.Close()

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	src := source.NewFSSource(a.cfg.Watch.Dir)
	p, err := a.newPipeline(src, s)
	if err != nil {
		return err
	}

	// Archive copies land inside the watched tree and must not be ingested.
	var opts []source.WatcherOption
	if archiver := a.newArchiver(src); archiver != nil {
		opts = append(opts, source.WithIgnore(archiver.Holds))
	}

	notes, err := source.NewDirWatcher(src.Root(), a.cfg.Watch.Debounce, a.log, opts...).Watch(ctx)
	if err != nil {
		return err
	}

	for note := range notes {
		ingestOnce(ctx, a, l, p, note)
	}

	a.log.Info("Watcher stopped")
	return nil
}

// ingestOnce ingests note unless the ledger has it. Failed objects stay out
// of the ledger so they are retried on the next start.
func ingestOnce(ctx context.Context, a *app, l ledger.Ledger, p *pipeline.Pipeline, note model.Notification) {
	name := note.String()

	seen, err := l.Seen(ctx, name)
	if err != nil {
		a.log.Errorf("Failed to read ledger: object=%s, error=%v", name, err)
		return
	}
	if seen {
		a.log.Debugf("Skipping already ingested object: object=%s", name)
		return
	}

	r := p.IngestObject(ctx, note)
	if r.Status == pipeline.StatusFailed {
		return
	}
	if err := l.Mark(ctx, name); err != nil {
		a.log.Errorf("Failed to update ledger: object=%s, error=%v", name, err)
	}
}
