// Package ledger remembers which objects have already been ingested so a
// restarted watcher does not ingest them twice.
package ledger

import (
	"context"
	"fmt"

	"github.com/GabrielNunesIT/edge-events/internal/config"
)

// Ledger records processed object names.
type Ledger interface {
	Seen(ctx context.Context, name string) (bool, error)
	Mark(ctx context.Context, name string) error
	Close() error
}

// New opens the ledger selected by cfg.Type.
func New(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Type {
	case config.LedgerFile:
		return OpenFile(cfg.Path)
	case config.LedgerRedis:
		return NewRedis(ctx, cfg.Redis)
	case config.LedgerNone, "":
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown ledger type %q", cfg.Type)
}

// Nop remembers nothing.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }
func (Nop) Mark(context.Context, string) error         { return nil }
func (Nop) Close() error                               { return nil }
