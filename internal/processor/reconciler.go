package processor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// Row level reconciliation failures. A row failing with either is counted as
// invalid and skipped.
var (
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidTimestamp = errors.New("invalid date or time")
)

var timestampLayouts = []string{
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
}

// Reconciler merges a log row and its payload into one Event.
type Reconciler struct {
	loc *time.Location
}

// NewReconciler creates a Reconciler that interprets date and time in loc.
// A nil loc means time.Local.
func NewReconciler(loc *time.Location) *Reconciler {
	if loc == nil {
		loc = time.Local
	}
	return &Reconciler{loc: loc}
}

// Reconcile builds the Event for row. Values supplied by the payload for
// Date, Time, UserAgent, IpAddress and Location take precedence over the log
// columns and are removed from the event data. bag is consumed.
func (r *Reconciler) Reconcile(row model.LogRow, bag model.PropertyBag) (model.Event, error) {
	if bag == nil {
		bag = model.NewPropertyBag()
	}

	id, _ := row.Get(model.ColumnRequestID)
	if id == "" || id == model.NoQuery {
		return model.Event{}, fmt.Errorf("%w: %s", ErrMissingField, model.ColumnRequestID)
	}

	ev := model.Event{
		ID:        id,
		Date:      pick(bag, model.PayloadDate, row, model.ColumnDate),
		Time:      pick(bag, model.PayloadTime, row, model.ColumnTime),
		UserAgent: pick(bag, model.PayloadUserAgent, row, model.ColumnUserAgent),
		IPAddress: pick(bag, model.PayloadIPAddress, row, model.ColumnClientIP),
		Location:  pick(bag, model.PayloadLocation, row, model.ColumnLocation),
		Data:      bag,
	}

	if ev.Date == "" {
		return model.Event{}, fmt.Errorf("%w: %s (row %s)", ErrMissingField, model.ColumnDate, id)
	}
	if ev.Time == "" {
		return model.Event{}, fmt.Errorf("%w: %s (row %s)", ErrMissingField, model.ColumnTime, id)
	}

	ts, err := r.Timestamp(ev.Date, ev.Time)
	if err != nil {
		return model.Event{}, fmt.Errorf("row %s: %w", id, err)
	}
	ev.Timestamp = ts

	return ev, nil
}

// Timestamp converts a date and a time of day to Unix seconds. Date
// separators '/' and '.' are accepted in place of '-'. Sub-second precision
// is truncated.
func (r *Reconciler) Timestamp(date, clock string) (int64, error) {
	date = strings.NewReplacer("/", "-", ".", "-").Replace(strings.TrimSpace(date))
	value := date + " " + strings.TrimSpace(clock)

	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, value, r.loc)
		if err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// pick returns the payload value for key when it holds a usable scalar,
// taking it out of bag, and falls back to the log column otherwise.
func pick(bag model.PropertyBag, key string, row model.LogRow, column string) string {
	if s := scalarString(bag[key]); s != "" {
		bag.Take(key)
		return s
	}

	v, _ := row.Get(column)
	if v == model.NoQuery {
		return ""
	}
	return v
}

func scalarString(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case float64, bool:
		return fmt.Sprint(tv)
	}
	return ""
}
