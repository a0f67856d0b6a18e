// Package pipeline orchestrates ingestion of access log objects.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/metrics"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/processor"
	"github.com/GabrielNunesIT/edge-events/internal/source"
)

// Errors identifying the stage at which a record failed.
var (
	ErrFetch   = errors.New("fetch failed")
	ErrDecode  = errors.New("decode failed")
	ErrPersist = errors.New("persist failed")
)

// Writer persists one batch of events.
type Writer interface {
	Write(ctx context.Context, events []model.Event) error
}

// Archiver moves an ingested object out of the way.
type Archiver interface {
	Archive(ctx context.Context, obj source.Object) error
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithArchiver archives every successfully ingested object.
func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) {
		p.archiver = a
	}
}

// WithMetrics records ingestion counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline turns object notifications into persisted events. Each record
// moves through fetched, decompressed, parsed, reconciled and persisted.
type Pipeline struct {
	cfg       config.PipelineConfig
	src       source.ObjectSource
	writer    Writer
	archiver  Archiver
	processor *processor.Processor
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
}

// New creates a pipeline reading from src and writing to w. Log timestamps
// are interpreted in loc.
func New(cfg config.PipelineConfig, src source.ObjectSource, w Writer, loc *time.Location, log *zap.SugaredLogger, opts ...Option) *Pipeline {
	if cfg.BatchSize < 1 || cfg.BatchSize > config.MaxBatchSize {
		cfg.BatchSize = config.MaxBatchSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}

	log = log.Named("pipeline")
	p := &Pipeline{
		cfg:       cfg,
		src:       src,
		writer:    w,
		processor: processor.New(loc, log),
		metrics:   metrics.New(),
		log:       log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes notes concurrently and independently. Every note gets a
// Report in the same position; the error joins the failures of all records.
func (p *Pipeline) Ingest(ctx context.Context, notes []model.Notification) ([]Report, error) {
	reports := make([]Report, len(notes))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, note := range notes {
		g.Go(func() error {
			reports[i] = p.IngestObject(ctx, note)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", r.Bucket, r.Key, r.Err))
		}
	}
	return reports, errors.Join(errs...)
}

// IngestObject runs one record through every stage. Failures are reported,
// never returned.
func (p *Pipeline) IngestObject(ctx context.Context, note model.Notification) Report {
	r := Report{Bucket: note.Bucket, Key: note.Key}
	start := time.Now()

	p.ingest(ctx, note, &r)
	r.Durations.Total = time.Since(start)

	switch r.Status {
	case StatusIngested:
		metrics.Add(&p.metrics.RecordsIngestedTotal, 1)
		p.log.Infof("Ingested object: bucket=%s, key=%s, rows=%d, dropped=%d, invalid=%d, events=%d, duration=%s",
			r.Bucket, r.Key, r.Rows, r.Dropped, r.Invalid, r.Events, r.Durations.Total)
	case StatusSkipped:
		metrics.Add(&p.metrics.RecordsSkippedTotal, 1)
	case StatusFailed:
		metrics.Add(&p.metrics.RecordsFailedTotal, 1)
		p.log.Errorf("Failed to ingest object: bucket=%s, key=%s, stage=%s, batches=%d, error=%v",
			r.Bucket, r.Key, r.Stage, r.Batches, r.Err)
	}
	return r
}

func (p *Pipeline) ingest(ctx context.Context, note model.Notification, r *Report) {
	if !note.IsObjectCreated() {
		p.log.Infof("Skipping notification: event=%s, bucket=%s, key=%s", note.EventName, note.Bucket, note.Key)
		r.skip("event " + note.EventName)
		return
	}

	t := time.Now()
	obj, err := p.src.Get(ctx, note.Bucket, note.Key)
	r.Durations.Fetch = time.Since(t)
	if err != nil {
		r.fail(fmt.Errorf("%w: %w", ErrFetch, err))
		return
	}
	r.Stage = StageFetched

	if p.cfg.ContentType != "" && obj.ContentType != p.cfg.ContentType {
		p.log.Warnf("Skipping object with unexpected content type: bucket=%s, key=%s, contentType=%s",
			obj.Bucket, obj.Key, obj.ContentType)
		r.skip("content type " + obj.ContentType)
		return
	}

	t = time.Now()
	text, err := decompress(obj.Body)
	r.Durations.Decompress = time.Since(t)
	if err != nil {
		r.fail(fmt.Errorf("%w: %w", ErrDecode, err))
		return
	}
	r.Stage = StageDecompressed

	t = time.Now()
	parsed, err := processor.ParseLog(text)
	r.Durations.Parse = time.Since(t)
	if err != nil {
		r.fail(fmt.Errorf("%w: %w", ErrDecode, err))
		return
	}
	r.Stage = StageParsed

	t = time.Now()
	events, stats := p.processor.Build(parsed)
	r.Durations.Transform = time.Since(t)
	r.Stage = StageReconciled
	r.Rows, r.Dropped, r.Invalid, r.Events = stats.Rows, stats.Dropped, stats.Invalid, stats.Events
	metrics.Add(&p.metrics.RowsDroppedTotal, stats.Dropped)
	metrics.Add(&p.metrics.RowsInvalidTotal, stats.Invalid)

	t = time.Now()
	err = p.persist(ctx, obj, events, r)
	r.Durations.Persist = time.Since(t)
	if err != nil {
		r.fail(fmt.Errorf("%w: %w", ErrPersist, err))
		return
	}
	r.Stage = StagePersisted
	r.Status = StatusIngested

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, obj); err != nil {
			p.log.Warnf("Failed to archive object: bucket=%s, key=%s, error=%v", obj.Bucket, obj.Key, err)
		}
	}
}

func decompress(body []byte) (string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// persist writes events in batches of cfg.BatchSize. The first failing
// batch aborts the batches not yet started; batches already written stay.
func (p *Pipeline) persist(ctx context.Context, obj source.Object, events []model.Event, r *Report) error {
	batches := chunk(events, p.cfg.BatchSize)
	if len(batches) == 0 {
		return nil
	}

	var done atomic.Int64
	write := func(ctx context.Context, batch []model.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.writer.Write(ctx, batch); err != nil {
			return err
		}
		n := done.Add(1)
		metrics.Add(&p.metrics.BatchesWrittenTotal, 1)
		metrics.Add(&p.metrics.EventsWrittenTotal, len(batch))
		p.log.Debugf("Batch written: key=%s, progress=%d/%d, size=%d", obj.Key, n, len(batches), len(batch))
		return nil
	}

	var err error
	if p.cfg.BatchConcurrency == 1 {
		for _, batch := range batches {
			if err = write(ctx, batch); err != nil {
				break
			}
		}
	} else {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.BatchConcurrency)
		for _, batch := range batches {
			g.Go(func() error {
				return write(gCtx, batch)
			})
		}
		err = g.Wait()
	}

	r.Batches = int(done.Load())
	return err
}

func chunk(events []model.Event, size int) [][]model.Event {
	var out [][]model.Event
	for start := 0; start < len(events); start += size {
		out = append(out, events[start:min(start+size, len(events))])
	}
	return out
}
