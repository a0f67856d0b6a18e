// Package server exposes queries and ingestion over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/metrics"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/pipeline"
)

const defaultMaxBodyBytes = 1 << 20

// Querier answers encoded filter queries.
type Querier interface {
	Handle(ctx context.Context, encoded string) model.Response
}

// Ingester ingests the objects named by notifications.
type Ingester interface {
	Ingest(ctx context.Context, notes []model.Notification) ([]pipeline.Report, error)
}

// Option configures the Server.
type Option func(*Server)

// WithIngester enables POST /ingest.
func WithIngester(i Ingester) Option {
	return func(s *Server) {
		s.ingester = i
	}
}

// WithMetrics exposes m on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server is the HTTP front end.
type Server struct {
	cfg      config.ServerConfig
	querier  Querier
	ingester Ingester
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

// New creates a server answering queries with q.
func New(cfg config.ServerConfig, q Querier, log *zap.SugaredLogger, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		cfg:     cfg,
		querier: q,
		metrics: metrics.New(),
		log:     log.Named("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/events", s.handleEvents)
	r.Post("/ingest", s.handleIngest)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	return r
}

// Start serves on cfg.Address until ctx is cancelled, then shuts down
// gracefully. ready is called once the listener is open.
func (s *Server) Start(ctx context.Context, ready func(addr net.Addr)) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Address, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Infof("Server listening: address=%s", ln.Addr())
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleEvents always answers 200; failures are reported in the body.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	encoded := r.URL.Query().Get("query")
	if encoded == "" {
		encoded = r.URL.Query().Get("q")
	}
	// Base64 never contains a space; an unescaped '+' arrives decoded as one.
	encoded = strings.ReplaceAll(encoded, " ", "+")
	writeJSON(w, http.StatusOK, s.querier.Handle(r.Context(), encoded))
}

type ingestResponse struct {
	Success bool              `json:"success"`
	Errors  []string          `json:"errors"`
	Reports []pipeline.Report `json:"reports"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	resp := ingestResponse{Errors: []string{}, Reports: []pipeline.Report{}}

	if s.ingester == nil {
		resp.Errors = append(resp.Errors, "ingestion is not enabled")
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		resp.Errors = append(resp.Errors, err.Error())
		writeJSON(w, status, resp)
		return
	}

	notes, err := model.ParseNotifications(body)
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	reports, err := s.ingester.Ingest(r.Context(), notes)
	resp.Reports = reports
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
		for _, rep := range reports {
			if rep.Err != nil {
				resp.Errors = append(resp.Errors, fmt.Sprintf("%s/%s: %v", rep.Bucket, rep.Key, rep.Err))
			}
		}
	}
	resp.Success = err == nil
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.metrics.String())
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("Request served: method=%s, path=%s, status=%d, bytes=%d, duration=%s, requestId=%s",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
