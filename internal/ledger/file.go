package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// FileLedger keeps processed names with their processing time in a JSON
// file. The whole file is rewritten on every Mark.
type FileLedger struct {
	path string

	mu        sync.Mutex
	processed map[string]int64
}

// OpenFile loads the ledger at path. A missing file is an empty ledger.
func OpenFile(path string) (*FileLedger, error) {
	l := &FileLedger{path: path, processed: make(map[string]int64)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.processed); err != nil {
		return nil, fmt.Errorf("decoding ledger %s: %w", path, err)
	}
	return l, nil
}

// Seen implements Ledger.
func (l *FileLedger) Seen(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.processed[name]
	return ok, nil
}

// Mark implements Ledger.
func (l *FileLedger) Mark(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.processed[name] = time.Now().Unix()
	return l.save()
}

// Close implements Ledger.
func (l *FileLedger) Close() error { return nil }

func (l *FileLedger) save() error {
	data, err := json.Marshal(l.processed)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
