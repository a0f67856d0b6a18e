package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/model"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func newBufferedStream(t *testing.T, format string) (*StreamWriter, *bufferCloser) {
	t.Helper()
	buf := &bufferCloser{}
	w, err := NewStreamWriter(config.OutputConfig{Format: format}, WithWriterFactory(func(config.OutputConfig) (io.WriteCloser, error) {
		return buf, nil
	}))
	require.NoError(t, err)
	return w, buf
}

func TestStreamWriter_JSON(t *testing.T) {
	w, buf := newBufferedStream(t, "json")

	require.NoError(t, w.Write(context.Background(), sampleEvents()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ev model.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "a", ev.ID)
	assert.Equal(t, int64(1705314600), ev.Timestamp)
	assert.Equal(t, "Chrome", ev.Data["Browser"])

	require.NoError(t, w.Close())
	assert.True(t, buf.closed)
}

func TestStreamWriter_Text(t *testing.T) {
	w, buf := newBufferedStream(t, "text")

	require.NoError(t, w.Write(context.Background(), sampleEvents()[:1]))

	out := buf.String()
	assert.Contains(t, out, "[2024-01-15T10:30:00Z] [a]")
	assert.Contains(t, out, `{"Browser":"Chrome"}`)
}

func TestStreamWriter_CancelledContext(t *testing.T) {
	w, buf := newBufferedStream(t, "json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Write(ctx, sampleEvents()), context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestStreamWriter_FactoryError(t *testing.T) {
	_, err := NewStreamWriter(config.OutputConfig{}, WithWriterFactory(func(config.OutputConfig) (io.WriteCloser, error) {
		return nil, errors.New("disk full")
	}))
	assert.ErrorContains(t, err, "disk full")
}

func TestStreamWriter_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	w, err := NewStreamWriter(config.OutputConfig{Format: "json", Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), sampleEvents()))
	require.NoError(t, w.Close())

	assert.FileExists(t, path)
}
