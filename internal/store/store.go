// Package store persists events and runs compiled queries against the
// document (Elasticsearch) and wide-column (DynamoDB) backends.
package store

import (
	"context"

	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/query"
)

// Writer persists one batch of events. Writing an event whose ID already
// exists replaces the stored event.
type Writer interface {
	Write(ctx context.Context, events []model.Event) error
}

// Store is a backend that both persists and serves events.
type Store interface {
	Writer
	query.Store
}

var (
	_ Store  = (*ElasticsearchStore)(nil)
	_ Store  = (*DynamoStore)(nil)
	_ Writer = (*StreamWriter)(nil)
)
