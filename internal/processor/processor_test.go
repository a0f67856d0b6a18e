package processor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/edge-events/internal/model"
	"github.com/GabrielNunesIT/edge-events/internal/testutil"
)

const (
	marker = "#Version: 1.0"
	header = "#Fields: date time cs-uri-query x-edge-request-id cs(User-Agent) c-ip x-edge-location"
	footer = "#EOF"

	// {"User_ID":"42","Interaction Type":"Signed In"}
	signedInPayload = "eyJVc2VyX0lEIjoiNDIiLCJJbnRlcmFjdGlvbiBUeXBlIjoiU2lnbmVkIEluIn0="
	// {"UserAgent":"PayloadAgent/1.0","Time":"11:00:00","IpAddress":"198.51.100.1","Browser":"Chrome"}
	overridePayload = "eyJVc2VyQWdlbnQiOiJQYXlsb2FkQWdlbnQvMS4wIiwiVGltZSI6IjExOjAwOjAwIiwiSXBBZGRyZXNzIjoiMTk4LjUxLjEwMC4xIiwiQnJvd3NlciI6IkNocm9tZSJ9"
)

func row(fields ...string) string {
	return strings.Join(fields, "\t")
}

func logText(rows ...string) string {
	lines := append([]string{marker, header}, rows...)
	return strings.Join(append(lines, footer), "\n")
}

func transform(p *Processor, text string) ([]model.Event, Stats, error) {
	parsed, err := ParseLog(text)
	if err != nil {
		return nil, Stats{}, err
	}
	events, stats := p.Build(parsed)
	return events, stats, nil
}

func TestProcessor_EndToEnd(t *testing.T) {
	p := New(time.UTC, testutil.NewTestLogger())

	text := logText(row("2024-01-15", "10:30:00", "eventData="+signedInPayload, "req-1", "Mozilla/5.0", "203.0.113.7", "LHR62-C2"))
	events, stats, err := transform(p, text)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, model.Event{
		ID:        "req-1",
		Timestamp: 1705314600,
		Date:      "2024-01-15",
		Time:      "10:30:00",
		UserAgent: "Mozilla/5.0",
		IPAddress: "203.0.113.7",
		Location:  "LHR62-C2",
		Data:      model.PropertyBag{"User_ID": "42", "Interaction_Type": "Signed In"},
	}, events[0])
	assert.Equal(t, Stats{Rows: 1, Events: 1}, stats)
}

func TestProcessor_SentinelRowsAreDropped(t *testing.T) {
	p := New(time.UTC, testutil.NewTestLogger())

	text := logText(
		row("2024-01-15", "10:30:00", "-", "req-1", "curl", "203.0.113.7", "LHR62-C2"),
		row("2024-01-15", "10:31:00", "eventData="+signedInPayload, "req-2", "curl", "203.0.113.7", "LHR62-C2"),
		row("2024-01-15", "10:32:00", "-", "req-3", "curl", "203.0.113.7", "LHR62-C2"),
	)
	events, stats, err := transform(p, text)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "req-2", events[0].ID)
	assert.Equal(t, Stats{Rows: 3, Dropped: 2, Events: 1}, stats)
}

func TestProcessor_InvalidRowsAreCounted(t *testing.T) {
	p := New(time.UTC, testutil.NewTestLogger())

	text := logText(
		row("2024-01-15", "10:30:00", "eventData="+signedInPayload),
		row("not-a-date", "10:30:00", "eventData="+signedInPayload, "req-2"),
		row("2024-01-15", "10:30:00", "eventData="+signedInPayload, "req-3"),
	)
	events, stats, err := transform(p, text)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "req-3", events[0].ID)
	assert.Empty(t, events[0].UserAgent)
	assert.Equal(t, Stats{Rows: 3, Invalid: 2, Events: 1}, stats)
}

func TestProcessor_NoHeader(t *testing.T) {
	p := New(time.UTC, testutil.NewTestLogger())

	_, _, err := transform(p, "just one line")
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestBuild_FromParsedRows(t *testing.T) {
	p := New(time.UTC, testutil.NewTestLogger())

	parsed, err := ParseLog(logText(
		row("2024-01-15", "10:30:00", "eventData="+signedInPayload, "req-1", "Mozilla/5.0", "203.0.113.7", "LHR62-C1"),
		row("2024-01-15", "10:31:00", "-", "req-2", "Mozilla/5.0", "203.0.113.7", "LHR62-C1"),
	))
	require.NoError(t, err)

	events, stats := p.Build(parsed)
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].ID)
	assert.Equal(t, Stats{Rows: 2, Dropped: 1, Events: 1}, stats)
}

func TestParseLog(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantRows    int
		wantDropped int
		wantErr     bool
	}{
		{"header only", marker + "\n" + header, 0, 0, false},
		{"footer is always dropped", logText(row("d", "t", "q=1", "id")), 1, 0, false},
		{"trailing newline keeps last row", marker + "\n" + header + "\n" + row("d", "t", "q=1", "id") + "\n", 1, 0, false},
		{"crlf line endings", strings.ReplaceAll(logText(row("d", "t", "q=1", "id")), "\n", "\r\n"), 1, 0, false},
		{"blank and comment lines skipped", logText("", "#comment", row("d", "t", "q=1", "id")), 1, 0, false},
		{"sentinel counted", logText(row("d", "t", "-", "id")), 0, 1, false},
		{"empty text", "", 0, 0, true},
		{"header without columns", marker + "\n#Fields:", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseLog(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoHeader)
				return
			}
			require.NoError(t, err)
			assert.Len(t, res.Rows, tt.wantRows)
			assert.Equal(t, tt.wantDropped, res.Dropped)
		})
	}
}

func TestParseLog_ShortRow(t *testing.T) {
	res, err := ParseLog(logText(row("2024-01-15", "10:30:00")))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	assert.Equal(t, []string{"date", "time", "cs-uri-query", "x-edge-request-id", "cs(User-Agent)", "c-ip", "x-edge-location"}, res.Columns)
	assert.Equal(t, model.LogRow{"date": "2024-01-15", "time": "10:30:00"}, res.Rows[0])
}

func TestExtractor_Extract(t *testing.T) {
	e := NewExtractor(testutil.NewTestLogger())

	tests := []struct {
		name  string
		query string
		want  model.PropertyBag
	}{
		{"sentinel", "-", model.PropertyBag{}},
		{"empty", "", model.PropertyBag{}},
		{"no payload param", "utm_source=mail&x=1", model.PropertyBag{}},
		{"empty payload", "eventData=", model.PropertyBag{}},
		{"camel case param", "a=1&eventData=" + signedInPayload, model.PropertyBag{"User_ID": "42", "Interaction_Type": "Signed In"}},
		{"snake case param", "event_data=" + signedInPayload, model.PropertyBag{"User_ID": "42", "Interaction_Type": "Signed In"}},
		{"percent encoded padding", "eventData=" + strings.TrimSuffix(signedInPayload, "=") + "%3D", model.PropertyBag{"User_ID": "42", "Interaction_Type": "Signed In"}},
		{"unpadded", "eventData=" + strings.TrimSuffix(signedInPayload, "="), model.PropertyBag{"User_ID": "42", "Interaction_Type": "Signed In"}},
		{"camel preferred over snake", "event_data=eyJhIGIiOjEsImFfYiI6Mn0=&eventData=" + signedInPayload, model.PropertyBag{"User_ID": "42", "Interaction_Type": "Signed In"}},
		{"invalid base64", "eventData=***", model.PropertyBag{}},
		{"invalid json", "eventData=bm90IGpzb24=", model.PropertyBag{}},
		{"json array", "eventData=WzEsMl0=", model.PropertyBag{}},
		{"colliding keys", "eventData=eyJhIGIiOjEsImFfYiI6Mn0=", model.PropertyBag{"a_b": float64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Extract(tt.query))
		})
	}
}

func TestReconciler_PayloadPrecedence(t *testing.T) {
	r := NewReconciler(time.UTC)
	base := model.LogRow{
		model.ColumnRequestID: "req-1",
		model.ColumnDate:      "2024-01-15",
		model.ColumnTime:      "10:30:00",
		model.ColumnUserAgent: "Mozilla/5.0",
		model.ColumnClientIP:  "203.0.113.7",
		model.ColumnLocation:  "LHR62-C2",
	}

	t.Run("payload wins and is removed", func(t *testing.T) {
		bag := NewExtractor(testutil.NewTestLogger()).Extract("eventData=" + overridePayload)

		ev, err := r.Reconcile(base, bag)
		require.NoError(t, err)

		assert.Equal(t, "PayloadAgent/1.0", ev.UserAgent)
		assert.Equal(t, "198.51.100.1", ev.IPAddress)
		assert.Equal(t, "11:00:00", ev.Time)
		assert.Equal(t, "2024-01-15", ev.Date)
		assert.Equal(t, "LHR62-C2", ev.Location)
		assert.Equal(t, int64(1705316400), ev.Timestamp)
		assert.Equal(t, model.PropertyBag{"Browser": "Chrome"}, ev.Data)
	})

	t.Run("log columns used when payload is silent", func(t *testing.T) {
		bag := model.PropertyBag{"Browser": "Chrome", "UserAgent": ""}

		ev, err := r.Reconcile(base, bag)
		require.NoError(t, err)

		assert.Equal(t, "Mozilla/5.0", ev.UserAgent)
		assert.Equal(t, "203.0.113.7", ev.IPAddress)
		assert.Equal(t, model.PropertyBag{"Browser": "Chrome", "UserAgent": ""}, ev.Data)
	})

	t.Run("nil bag", func(t *testing.T) {
		ev, err := r.Reconcile(base, nil)
		require.NoError(t, err)
		assert.NotNil(t, ev.Data)
	})
}

func TestReconciler_MissingFields(t *testing.T) {
	r := NewReconciler(time.UTC)

	tests := []struct {
		name string
		row  model.LogRow
		want error
	}{
		{"no id", model.LogRow{model.ColumnDate: "2024-01-15", model.ColumnTime: "10:30:00"}, ErrMissingField},
		{"dash id", model.LogRow{model.ColumnRequestID: "-", model.ColumnDate: "2024-01-15", model.ColumnTime: "10:30:00"}, ErrMissingField},
		{"no date", model.LogRow{model.ColumnRequestID: "req", model.ColumnTime: "10:30:00"}, ErrMissingField},
		{"no time", model.LogRow{model.ColumnRequestID: "req", model.ColumnDate: "2024-01-15"}, ErrMissingField},
		{"bad date", model.LogRow{model.ColumnRequestID: "req", model.ColumnDate: "15th Jan", model.ColumnTime: "10:30:00"}, ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Reconcile(tt.row, model.NewPropertyBag())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReconciler_Timestamp(t *testing.T) {
	r := NewReconciler(time.UTC)

	tests := []struct {
		date, clock string
		want        int64
	}{
		{"2024-01-15", "10:30:00", 1705314600},
		{"2024/01/15", "10:30:00", 1705314600},
		{"2024.01.15", "10:30:00", 1705314600},
		{"2024-1-15", "10:30", 1705314600},
		{"2024-01-15", "10:30:00.999", 1705314600},
	}

	for _, tt := range tests {
		t.Run(tt.date+" "+tt.clock, func(t *testing.T) {
			got, err := r.Timestamp(tt.date, tt.clock)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	loc := time.FixedZone("UTC+2", 2*60*60)
	got, err := NewReconciler(loc).Timestamp("2024-01-15", "10:30:00")
	require.NoError(t, err)
	assert.Equal(t, int64(1705314600-2*60*60), got)
}
