// Package processor turns decompressed access log text into Events.
package processor

import (
	"time"

	"go.uber.org/zap"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// Stats summarizes one Build call.
type Stats struct {
	Rows    int `json:"rows"`
	Dropped int `json:"dropped"`
	Invalid int `json:"invalid"`
	Events  int `json:"events"`
}

// Processor chains parsing, payload extraction and reconciliation.
type Processor struct {
	log        *zap.SugaredLogger
	extractor  *Extractor
	reconciler *Reconciler
}

// New creates a Processor interpreting log timestamps in loc.
func New(loc *time.Location, log *zap.SugaredLogger) *Processor {
	return &Processor{
		log:        log,
		extractor:  NewExtractor(log),
		reconciler: NewReconciler(loc),
	}
}

// Build extracts the payload of every parsed row and reconciles it into an
// Event, in log order. Rows failing reconciliation are counted as invalid
// and skipped.
func (p *Processor) Build(parsed ParseResult) ([]model.Event, Stats) {
	stats := Stats{
		Rows:    len(parsed.Rows) + parsed.Dropped,
		Dropped: parsed.Dropped,
	}
	if parsed.Dropped > 0 {
		p.log.Warnf("Skipped rows without event payload: count=%d", parsed.Dropped)
	}

	events := make([]model.Event, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		query, _ := row.Get(model.ColumnQuery)
		bag := p.extractor.Extract(query)

		ev, err := p.reconciler.Reconcile(row, bag)
		if err != nil {
			stats.Invalid++
			p.log.Debugf("Skipping invalid row: error=%v", err)
			continue
		}
		events = append(events, ev)
	}
	stats.Events = len(events)

	if stats.Invalid > 0 {
		p.log.Warnf("Skipped invalid rows: count=%d", stats.Invalid)
	}
	return events, stats
}
