package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/pipeline"
	"github.com/GabrielNunesIT/edge-events/internal/source"
	"github.com/GabrielNunesIT/edge-events/internal/store"
)

type ingestFlags struct {
	bucket       string
	key          string
	notification string
	file         string
	dryRun       bool
}

// NewIngestCmd creates the ingest command.
func NewIngestCmd(flags *rootFlags) *cobra.Command {
	f := &ingestFlags{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest access log objects once",
		Long: `Ingest one or more gzip-compressed access log objects.

Objects are named with --bucket and --key, by an S3 event notification
document (--notification, "-" reads stdin), or as a local file (--file).
With --dry-run events are printed instead of stored.`,
		Example: `  edge-events ingest --bucket logs --key 2024/01/15/E123.gz
  edge-events ingest --notification event.json
  edge-events ingest --file ./E123.2024-01-15-10.gz --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, flags, f)
		},
	}

	cmd.Flags().StringVar(&f.bucket, "bucket", "", "bucket of the object to ingest")
	cmd.Flags().StringVar(&f.key, "key", "", "key of the object to ingest")
	cmd.Flags().StringVar(&f.notification, "notification", "", `S3 event notification file ("-" for stdin)`)
	cmd.Flags().StringVar(&f.file, "file", "", "local log file to ingest")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print events instead of storing them")
	cmd.MarkFlagsRequiredTogether("bucket", "key")
	cmd.MarkFlagsMutuallyExclusive("bucket", "notification", "file")
	cmd.MarkFlagsOneRequired("bucket", "notification", "file")

	return cmd
}

func runIngest(cmd *cobra.Command, flags *rootFlags, f *ingestFlags) error {
	a, err := setup(flags)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notes, src, err := ingestTargets(ctx, a, f, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var w pipeline.Writer
	if f.dryRun {
		sw, err := store.NewStreamWriter(a.cfg.Output)
		if err != nil {
			return err
		}
		defer sw.Close()
		w = sw
	} else {
		s, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		w = s
	}

	p, err := a.newPipeline(src, w)
	if err != nil {
		return err
	}

	reports, err := p.Ingest(ctx, notes)
	for _, r := range reports {
		a.log.Infof("Ingestion report: bucket=%s, key=%s, status=%s, events=%d, batches=%d",
			r.Bucket, r.Key, r.Status, r.Events, r.Batches)
	}
	return err
}

// ingestTargets resolves the flags into notifications and the source that
// serves them.
func ingestTargets(ctx context.Context, a *app, f *ingestFlags, stdin io.Reader) ([]model.Notification, source.ObjectSource, error) {
	if f.file != "" {
		src, note, err := localFile(f.file)
		if err != nil {
			return nil, nil, err
		}
		return []model.Notification{note}, src, nil
	}

	var notes []model.Notification
	if f.notification != "" {
		data, err := readInput(f.notification, stdin)
		if err != nil {
			return nil, nil, err
		}
		notes, err = model.ParseNotifications(data)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing notification: %w", err)
		}
	} else {
		notes = []model.Notification{{EventName: source.EventDirectoryPut, Bucket: f.bucket, Key: f.key}}
	}

	src, err := a.openSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	return notes, src, nil
}

// localFile addresses path as <parent>/<name> below its grandparent
// directory, the layout FSSource reads.
func localFile(path string) (source.ObjectSource, model.Notification, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, model.Notification{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, model.Notification{}, err
	}
	if !info.Mode().IsRegular() {
		return nil, model.Notification{}, fmt.Errorf("%s is not a regular file", path)
	}

	dir := filepath.Dir(abs)
	note := model.Notification{
		EventName: source.EventDirectoryPut,
		Bucket:    filepath.Base(dir),
		Key:       filepath.Base(abs),
	}
	if note.Bucket == string(filepath.Separator) || note.Bucket == "." {
		return nil, model.Notification{}, errors.New("cannot ingest a file from the filesystem root")
	}
	return source.NewFSSource(filepath.Dir(dir)), note, nil
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
