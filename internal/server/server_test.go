package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/metrics"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/pipeline"
	"github.com/GabrielNunesIT/edge-events/internal/testutil"
)

type stubQuerier struct {
	got string
}

func (q *stubQuerier) Handle(_ context.Context, encoded string) model.Response {
	q.got = encoded
	resp := model.NewResponse()
	if encoded == "" {
		resp.Fail("query is required")
		return resp
	}
	resp.Success = true
	resp.Data.Page = 1
	resp.Data.TotalMatchingEvents = 1
	resp.Data.Events = []model.Event{{ID: "a", Data: model.PropertyBag{}}}
	return resp
}

type stubIngester struct {
	notes   []model.Notification
	reports []pipeline.Report
	err     error
}

func (i *stubIngester) Ingest(_ context.Context, notes []model.Notification) ([]pipeline.Report, error) {
	i.notes = notes
	return i.reports, i.err
}

const notificationBody = `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"logs"},"object":{"key":"a.gz","size":10}}}]}`

func newTestServer(opts ...Option) *Server {
	return New(config.ServerConfig{MaxBodyBytes: 1024}, &stubQuerier{}, testutil.NewTestLogger(), opts...)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestServer_Events(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		wantQuery   string
		wantSuccess bool
	}{
		{"query parameter", "/events?query=e30%3D", "e30=", true},
		{"short parameter", "/events?q=e30", "e30", true},
		{"unescaped plus", "/events?query=eyJ+In0=", "eyJ+In0=", true},
		{"escaped plus", "/events?query=eyJ%2BIn0%3D", "eyJ+In0=", true},
		{"missing query", "/events", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &stubQuerier{}
			s := New(config.ServerConfig{}, q, testutil.NewTestLogger())

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, http.StatusOK, rec.Code, "query failures are reported in the body")
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantQuery, q.got)

			resp := decode[model.Response](t, rec)
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.NotNil(t, resp.Errors)
		})
	}
}

func TestServer_Ingest(t *testing.T) {
	ing := &stubIngester{reports: []pipeline.Report{{Bucket: "logs", Key: "a.gz", Status: pipeline.StatusIngested, Events: 3}}}
	s := newTestServer(WithIngester(ing))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(notificationBody)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ing.notes, 1)
	assert.Equal(t, "logs", ing.notes[0].Bucket)
	assert.Equal(t, "a.gz", ing.notes[0].Key)

	resp := decode[ingestResponse](t, rec)
	assert.True(t, resp.Success)
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, 3, resp.Reports[0].Events)
}

func TestServer_IngestFailure(t *testing.T) {
	fetchErr := errors.New("fetch failed: object not found")
	ing := &stubIngester{
		reports: []pipeline.Report{{Bucket: "logs", Key: "a.gz", Status: pipeline.StatusFailed, Err: fetchErr}},
		err:     fetchErr,
	}
	s := newTestServer(WithIngester(ing))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(notificationBody)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ingestResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, []string{"logs/a.gz: fetch failed: object not found"}, resp.Errors)
}

func TestServer_IngestRejects(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		body       string
		wantStatus int
	}{
		{"disabled", nil, notificationBody, http.StatusServiceUnavailable},
		{"malformed body", []Option{WithIngester(&stubIngester{})}, "{", http.StatusBadRequest},
		{"no records", []Option{WithIngester(&stubIngester{})}, `{"Records":[]}`, http.StatusBadRequest},
		{"too large", []Option{WithIngester(&stubIngester{})}, strings.Repeat("x", 2048), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.opts...)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode[ingestResponse](t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Errors)
		})
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	m := metrics.New()
	metrics.Add(&m.QueriesTotal, 7)
	s := newTestServer(WithMetrics(m))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queries_total=7")
}

func TestServer_StartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(config.ServerConfig{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, &stubQuerier{}, testutil.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx, func(addr net.Addr) { addrCh <- addr })
	}()

	addr := <-addrCh
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	client.CloseIdleConnections()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
