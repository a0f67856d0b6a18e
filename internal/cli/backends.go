package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/metrics"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/pipeline"
	"github.com/GabrielNunesIT/edge-events/internal/query"
	"github.com/GabrielNunesIT/edge-events/internal/source"
	"github.com/GabrielNunesIT/edge-events/internal/store"
)

// tableWait bounds how long EnsureTable waits for a new table.
const tableWait = 2 * time.Minute

// app holds what every command needs once the config is loaded.
type app struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	level   zap.AtomicLevel
	metrics *metrics.Metrics
}

// setup loads and validates the config and builds the logger. The
// --log-level flag wins over the config file.
func setup(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, level := SetupLogging(cfg.Logging, cfg.LogLevel)
	return &app{cfg: cfg, log: log, level: level, metrics: metrics.New()}, nil
}

// watchConfig applies log level changes from the config file until ctx is
// done. Without an explicit config file there is nothing to watch.
func (a *app) watchConfig(ctx context.Context, flags *rootFlags) {
	if flags.cfgFile == "" || flags.logLevel != "" {
		return
	}

	w := config.NewWatcher(flags.cfgFile, a.log)
	if err := w.Start(ctx); err != nil {
		a.log.Warnf("Failed to watch config file: path=%s, error=%v", flags.cfgFile, err)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-w.Changes():
				lvl := ParseLevel(cfg.LogLevel)
				if lvl != a.level.Level() {
					a.level.SetLevel(lvl)
					a.log.Infof("Log level changed: level=%s", lvl)
				}
			}
		}
	}()
}

// openStore connects the configured backend, creating the index or table
// first when configured to.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Backend {
	case config.BackendElasticsearch:
		s, err := store.NewElasticsearchStore(a.cfg.Elasticsearch, a.log)
		if err != nil {
			return nil, err
		}
		if a.cfg.Elasticsearch.EnsureIndex {
			if err := s.EnsureIndex(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil

	case config.BackendDynamoDB:
		client, err := store.NewDynamoClient(ctx, a.cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		s := store.NewDynamoStore(a.cfg.DynamoDB, client, a.log)
		if a.cfg.DynamoDB.EnsureTable {
			if err := s.EnsureTable(ctx, tableWait); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
}

// openSource returns the configured object source.
func (a *app) openSource(ctx context.Context) (source.ObjectSource, error) {
	switch a.cfg.ObjectSource {
	case config.SourceS3:
		client, err := source.NewS3Client(ctx, a.cfg.S3)
		if err != nil {
			return nil, err
		}
		return source.NewS3Source(client, a.log), nil
	case config.SourceFilesystem:
		return source.NewFSSource(a.cfg.Filesystem.Root), nil
	}
	return nil, fmt.Errorf("unknown object source %q", a.cfg.ObjectSource)
}

// newPipeline wires src and w into an ingestion pipeline. Objects are
// archived after ingestion when an archive bucket or prefix is configured.
func (a *app) newPipeline(src source.ObjectSource, w pipeline.Writer) (*pipeline.Pipeline, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if archiver := a.newArchiver(src); archiver != nil {
		opts = append(opts, pipeline.WithArchiver(archiver))
	}

	return pipeline.New(a.cfg.Pipeline, src, w, loc, a.log, opts...), nil
}

// newArchiver returns nil when neither an archive bucket nor a prefix is
// configured.
func (a *app) newArchiver(src source.ObjectSource) *source.Archiver {
	if a.cfg.S3.ArchiveBucket == "" && a.cfg.S3.ArchivePrefix == "" {
		return nil
	}
	return source.NewArchiver(src, a.cfg.S3.ArchiveBucket, a.cfg.S3.ArchivePrefix, a.cfg.S3.DeleteAfterArchive, a.log)
}

// newQueryService answers filters against s.
func (a *app) newQueryService(s query.Store) *query.Service {
	opts := model.FilterOptions{StrictOperators: a.cfg.Query.StrictOperators}
	return query.NewService(s, opts, a.log, a.metrics)
}
