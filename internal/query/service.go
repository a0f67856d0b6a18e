package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/edge-events/internal/metrics"
	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// Store is the read side of an event store.
type Store interface {
	// Compiler returns the compiler producing queries this store accepts.
	Compiler() Compiler

	// Query returns one page of matching events, newest first, together with
	// the total number of matches. page starts at 1.
	Query(ctx context.Context, q BackendQuery, pageSize, page int) ([]model.Event, int64, error)

	// CountAll returns the number of events in the store.
	CountAll(ctx context.Context) (int64, error)
}

// Service answers filter queries against a Store.
type Service struct {
	store   Store
	opts    model.FilterOptions
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewService creates a Service. m may be nil.
func NewService(store Store, opts model.FilterOptions, log *zap.SugaredLogger, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{store: store, opts: opts, log: log, metrics: m}
}

// Handle decodes a base64 encoded JSON filter and runs it. It always returns
// a well-formed Response; failures are reported in its Errors field.
func (s *Service) Handle(ctx context.Context, encoded string) model.Response {
	metrics.Add(&s.metrics.QueriesTotal, 1)

	f, err := model.DecodeFilter(encoded, s.opts)
	if err != nil {
		return s.reject(err)
	}
	return s.run(ctx, f)
}

// HandleRaw validates raw and runs it.
func (s *Service) HandleRaw(ctx context.Context, raw model.RawFilter) model.Response {
	metrics.Add(&s.metrics.QueriesTotal, 1)

	f, err := model.NewFilter(raw, s.opts)
	if err != nil {
		return s.reject(err)
	}
	return s.run(ctx, f)
}

func (s *Service) reject(err error) model.Response {
	metrics.Add(&s.metrics.QueriesFailedTotal, 1)
	s.log.Infof("Rejected query: error=%v", err)

	resp := model.NewResponse()
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		resp.Fail(verr.Problems...)
	} else {
		resp.Fail(err.Error())
	}
	return resp
}

func (s *Service) run(ctx context.Context, f model.Filter) model.Response {
	resp := model.NewResponse()

	compiled := s.store.Compiler().Compile(f)
	resp.Data.Query = compiled

	var (
		events   []model.Event
		matching int64
		total    int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, matching, err = s.store.Query(gctx, compiled, f.ResultsPerPage(), f.Page())
		if err != nil {
			return fmt.Errorf("querying events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountAll(gctx)
		if err != nil {
			return fmt.Errorf("counting events: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.Add(&s.metrics.QueriesFailedTotal, 1)
		s.log.Errorf("Query failed: error=%v", err)
		resp.Fail(err.Error())
		return resp
	}

	if events == nil {
		events = []model.Event{}
	}

	resp.Success = true
	resp.Data.Events = events
	resp.Data.TotalInPage = len(events)
	resp.Data.TotalMatchingEvents = matching
	resp.Data.TotalEvents = total
	resp.Data.Page = f.Page()
	resp.Data.TotalPages = f.TotalPages(matching)

	s.log.Debugf("Query served: page=%d, in_page=%d, matching=%d, total=%d",
		f.Page(), len(events), matching, total)
	return resp
}
