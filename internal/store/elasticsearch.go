package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/query"
)

// maxResultWindow is the default index.max_result_window.
const maxResultWindow = 10000

// IndexerFactory creates a new BulkIndexer.
type IndexerFactory func(client *elasticsearch.Client, cfg config.ElasticsearchConfig) (esutil.BulkIndexer, error)

// ElasticsearchOption configures the ElasticsearchStore.
type ElasticsearchOption func(*ElasticsearchStore)

// WithIndexerFactory sets a custom factory for creating the BulkIndexer.
// This is primarily used for testing to inject a mock indexer.
func WithIndexerFactory(f IndexerFactory) ElasticsearchOption {
	return func(s *ElasticsearchStore) {
		s.factory = f
	}
}

// WithTransport replaces the HTTP transport of the underlying client.
func WithTransport(rt http.RoundTripper) ElasticsearchOption {
	return func(s *ElasticsearchStore) {
		s.transport = rt
	}
}

// ElasticsearchStore stores one document per event, keyed by event ID.
type ElasticsearchStore struct {
	cfg       config.ElasticsearchConfig
	client    *elasticsearch.Client
	factory   IndexerFactory
	transport http.RoundTripper
	log       *zap.SugaredLogger
}

// NewElasticsearchStore creates the client. No request is made until the
// store is used.
func NewElasticsearchStore(cfg config.ElasticsearchConfig, log *zap.SugaredLogger, opts ...ElasticsearchOption) (*ElasticsearchStore, error) {
	s := &ElasticsearchStore{
		cfg: cfg,
		log: log.Named("elasticsearch"),
	}

	// Default factory creates a bulk indexer per batch
	s.factory = func(client *elasticsearch.Client, cfg config.ElasticsearchConfig) (esutil.BulkIndexer, error) {
		return esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
			Client:     client,
			Index:      cfg.Index,
			NumWorkers: cfg.Workers,
			FlushBytes: cfg.FlushBytes,
			Timeout:    cfg.Timeout,
		})
	}

	for _, opt := range opts {
		opt(s)
	}

	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Transport: s.transport,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	s.client = client

	return s, nil
}

// Compiler implements query.Store.
func (s *ElasticsearchStore) Compiler() query.Compiler {
	return query.DocumentCompiler{}
}

// Write indexes events, replacing documents with the same ID. It returns
// once every document has been acknowledged or rejected.
func (s *ElasticsearchStore) Write(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	indexer, err := s.factory(s.client, s.cfg)
	if err != nil {
		return fmt.Errorf("creating bulk indexer: %w", err)
	}

	var (
		mu       sync.Mutex
		failures []error
	)
	onFailure := func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
		if err == nil {
			err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
		}
		mu.Lock()
		failures = append(failures, fmt.Errorf("document %s: %w", item.DocumentID, err))
		mu.Unlock()
	}

	var addErr error
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			addErr = fmt.Errorf("encoding event %s: %w", ev.ID, err)
			break
		}

		err = indexer.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: ev.ID,
			Body:       bytes.NewReader(data),
			OnFailure:  onFailure,
		})
		if err != nil {
			addErr = fmt.Errorf("adding event %s: %w", ev.ID, err)
			break
		}
	}

	if err := indexer.Close(ctx); err != nil && addErr == nil {
		addErr = fmt.Errorf("flushing bulk indexer: %w", err)
	}
	if addErr != nil {
		return addErr
	}

	stats := indexer.Stats()
	if len(failures) > 0 || stats.NumFailed > 0 {
		return fmt.Errorf("%d of %d documents failed: %w", stats.NumFailed, len(events), errors.Join(failures...))
	}

	s.log.Debugf("Indexed batch: documents=%d", stats.NumIndexed)
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source model.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query runs a DocumentQuery and returns one page sorted by timestamp,
// newest first.
func (s *ElasticsearchStore) Query(ctx context.Context, q query.BackendQuery, pageSize, page int) ([]model.Event, int64, error) {
	doc, ok := q.(query.DocumentQuery)
	if !ok {
		return nil, 0, fmt.Errorf("elasticsearch cannot run %s queries", q.Variant())
	}

	from := (page - 1) * pageSize
	size := pageSize
	if from+size > maxResultWindow {
		// Past the result window only the total is available.
		from, size = 0, 0
	}

	body, err := json.Marshal(map[string]any{
		"query":            doc,
		"from":             from,
		"size":             size,
		"track_total_hits": true,
		"sort":             []any{map[string]any{query.FieldTimestamp: map[string]any{"order": "desc"}}},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encoding search: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.cfg.Index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("searching: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return []model.Event{}, 0, nil
	}
	if res.IsError() {
		return nil, 0, responseError("search", res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, 0, fmt.Errorf("decoding search response: %w", err)
	}

	events := make([]model.Event, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, sr.Hits.Total.Value, nil
}

// CountAll implements query.Store. A missing index counts as empty.
func (s *ElasticsearchStore) CountAll(ctx context.Context) (int64, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.cfg.Index),
	)
	if err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, responseError("count", res)
	}

	var cr struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return cr.Count, nil
}

// indexMapping maps every string below data to keyword so that term,
// wildcard and prefix queries match the raw value.
const indexMapping = `{
  "mappings": {
    "dynamic_templates": [
      {"strings_as_keywords": {"match_mapping_type": "string", "mapping": {"type": "keyword"}}}
    ],
    "properties": {
      "id": {"type": "keyword"},
      "timestamp": {"type": "long"},
      "date": {"type": "keyword"},
      "time": {"type": "keyword"},
      "userAgent": {"type": "keyword"},
      "ipAddress": {"type": "keyword"},
      "location": {"type": "keyword"},
      "data": {"type": "object"}
    }
  }
}`

// EnsureIndex creates the index with its mapping unless it already exists.
func (s *ElasticsearchStore) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.cfg.Index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("checking index: %w", err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("checking index: unexpected status %s", res.Status())
	}

	res, err = s.client.Indices.Create(
		s.cfg.Index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("create index", res)
	}

	s.log.Infof("Created index: index=%s", s.cfg.Index)
	return nil
}

func responseError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(msg)))
}
