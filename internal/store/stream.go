package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/natefinch/lumberjack"

	"github.com/GabrielNunesIT/edge-events/internal/config"
	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// WriterFactory creates the destination of a StreamWriter.
type WriterFactory func(cfg config.OutputConfig) (io.WriteCloser, error)

// StreamOption configures the StreamWriter.
type StreamOption func(*StreamWriter)

// WithWriterFactory sets a custom factory for creating the destination.
func WithWriterFactory(f WriterFactory) StreamOption {
	return func(w *StreamWriter) {
		w.factory = f
	}
}

// StreamWriter writes events one per line instead of persisting them. It
// backs dry-run ingestion.
type StreamWriter struct {
	cfg     config.OutputConfig
	factory WriterFactory
	out     io.WriteCloser
	mu      sync.Mutex
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewStreamWriter creates a writer for cfg. Events go to stdout when
// cfg.Path is empty and to a rotating file otherwise.
func NewStreamWriter(cfg config.OutputConfig, opts ...StreamOption) (*StreamWriter, error) {
	w := &StreamWriter{cfg: cfg}

	w.factory = func(cfg config.OutputConfig) (io.WriteCloser, error) {
		if cfg.Path == "" {
			return nopCloser{os.Stdout}, nil
		}
		return &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	}

	for _, opt := range opts {
		opt(w)
	}

	out, err := w.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	w.out = out
	return w, nil
}

// Write implements Writer.
func (w *StreamWriter) Write(ctx context.Context, events []model.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		var line []byte
		var err error
		switch w.cfg.Format {
		case "text":
			line = []byte(formatText(ev))
		default:
			line, err = json.Marshal(ev)
		}
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", ev.ID, err)
		}

		if _, err := w.out.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the destination.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}

func formatText(ev model.Event) string {
	var sb strings.Builder
	ts := time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339)
	fmt.Fprintf(&sb, "[%s] [%s] %s %s %q", ts, ev.ID, ev.IPAddress, ev.Location, ev.UserAgent)
	if len(ev.Data) > 0 {
		data, _ := json.Marshal(ev.Data)
		sb.WriteByte(' ')
		sb.Write(data)
	}
	return sb.String()
}
