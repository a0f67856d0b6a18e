// Package metrics holds the process-wide ingestion and query counters.
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics is a set of monotonically increasing counters. Fields are updated
// with sync/atomic and must be read through Snapshot or String.
type Metrics struct {
	// Objects whose events were all persisted.
	RecordsIngestedTotal int64
	// Objects that failed at fetch, decode or persist.
	RecordsFailedTotal int64
	// Objects skipped because of their content type or event name.
	RecordsSkippedTotal int64

	// Rows carrying the no-query marker.
	RowsDroppedTotal int64
	// Rows that failed reconciliation.
	RowsInvalidTotal int64

	EventsWrittenTotal  int64
	BatchesWrittenTotal int64

	QueriesTotal       int64
	QueriesFailedTotal int64
}

// New returns zeroed counters.
func New() *Metrics {
	return &Metrics{}
}

// Add increments counter by delta.
func Add(counter *int64, delta int) {
	atomic.AddInt64(counter, int64(delta))
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	RecordsIngestedTotal int64 `json:"records_ingested_total"`
	RecordsFailedTotal   int64 `json:"records_failed_total"`
	RecordsSkippedTotal  int64 `json:"records_skipped_total"`
	RowsDroppedTotal     int64 `json:"rows_dropped_total"`
	RowsInvalidTotal     int64 `json:"rows_invalid_total"`
	EventsWrittenTotal   int64 `json:"events_written_total"`
	BatchesWrittenTotal  int64 `json:"batches_written_total"`
	QueriesTotal         int64 `json:"queries_total"`
	QueriesFailedTotal   int64 `json:"queries_failed_total"`
}

// Snapshot loads every counter.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RecordsIngestedTotal: atomic.LoadInt64(&m.RecordsIngestedTotal),
		RecordsFailedTotal:   atomic.LoadInt64(&m.RecordsFailedTotal),
		RecordsSkippedTotal:  atomic.LoadInt64(&m.RecordsSkippedTotal),
		RowsDroppedTotal:     atomic.LoadInt64(&m.RowsDroppedTotal),
		RowsInvalidTotal:     atomic.LoadInt64(&m.RowsInvalidTotal),
		EventsWrittenTotal:   atomic.LoadInt64(&m.EventsWrittenTotal),
		BatchesWrittenTotal:  atomic.LoadInt64(&m.BatchesWrittenTotal),
		QueriesTotal:         atomic.LoadInt64(&m.QueriesTotal),
		QueriesFailedTotal:   atomic.LoadInt64(&m.QueriesFailedTotal),
	}
}

// String renders the counters one per line as name=value.
func (m *Metrics) String() string {
	s := m.Snapshot()

	var sb strings.Builder
	sb.Grow(256)

	fmt.Fprintf(&sb, "records_ingested_total=%d\n", s.RecordsIngestedTotal)
	fmt.Fprintf(&sb, "records_failed_total=%d\n", s.RecordsFailedTotal)
	fmt.Fprintf(&sb, "records_skipped_total=%d\n", s.RecordsSkippedTotal)

	fmt.Fprintf(&sb, "rows_dropped_total=%d\n", s.RowsDroppedTotal)
	fmt.Fprintf(&sb, "rows_invalid_total=%d\n", s.RowsInvalidTotal)

	fmt.Fprintf(&sb, "events_written_total=%d\n", s.EventsWrittenTotal)
	fmt.Fprintf(&sb, "batches_written_total=%d\n", s.BatchesWrittenTotal)

	fmt.Fprintf(&sb, "queries_total=%d\n", s.QueriesTotal)
	fmt.Fprintf(&sb, "queries_failed_total=%d\n", s.QueriesFailedTotal)

	return sb.String()
}
