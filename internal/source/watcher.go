package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// EventDirectoryPut is the event name given to files found by DirWatcher.
const EventDirectoryPut = "ObjectCreated:Put"

// DirWatcher turns files dropped into a directory tree into notifications.
// A file at <dir>/<bucket>/<key> is announced as bucket and key, matching the
// layout FSSource reads. Hidden files and files placed directly in dir are
// ignored.
type DirWatcher struct {
	dir      string
	debounce time.Duration
	ignore   func(bucket, key string) bool
	log      *zap.SugaredLogger
}

// WatcherOption configures a DirWatcher.
type WatcherOption func(*DirWatcher)

// WithIgnore suppresses files for which fn returns true, such as the copies
// an Archiver writes back into the watched tree.
func WithIgnore(fn func(bucket, key string) bool) WatcherOption {
	return func(w *DirWatcher) {
		w.ignore = fn
	}
}

// NewDirWatcher creates a watcher for dir. A file is announced once it has
// not been written to for debounce.
func NewDirWatcher(dir string, debounce time.Duration, log *zap.SugaredLogger, opts ...WatcherOption) *DirWatcher {
	w := &DirWatcher{dir: dir, debounce: debounce, log: log.Named("watcher")}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch announces every file already present and then each new or rewritten
// file until ctx is canceled. The returned channel is closed on exit.
func (w *DirWatcher) Watch(ctx context.Context) (<-chan model.Notification, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating directory watcher: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		fw.Close()
		return nil, fmt.Errorf("creating %s: %w", w.dir, err)
	}

	var existing []string
	err = filepath.WalkDir(w.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		existing = append(existing, p)
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", w.dir, err)
	}

	out := make(chan model.Notification)
	go w.loop(ctx, fw, existing, out)

	w.log.Infof("Watching drop directory: dir=%s, existing=%d", w.dir, len(existing))
	return out, nil
}

func (w *DirWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, existing []string, out chan<- model.Notification) {
	defer close(out)
	defer fw.Close()

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		ready  = make(chan string)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(p string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[p]; ok {
			t.Reset(w.debounce)
			return
		}
		timers[p] = time.AfterFunc(w.debounce, func() {
			select {
			case ready <- p:
			case <-ctx.Done():
			}
		})
	}

	for _, p := range existing {
		schedule(p)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				w.addTree(fw, ev.Name, schedule)
				continue
			}
			schedule(ev.Name)

		case p := <-ready:
			mu.Lock()
			delete(timers, p)
			mu.Unlock()

			n, ok := w.notification(p)
			if !ok {
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("Directory watch error: error=%v", err)
		}
	}
}

// addTree watches a newly created directory and schedules the files that
// were moved in together with it.
func (w *DirWatcher) addTree(fw *fsnotify.Watcher, root string, schedule func(string)) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(p); err != nil {
				w.log.Warnf("Cannot watch directory: dir=%s, error=%v", p, err)
			}
			return nil
		}
		schedule(p)
		return nil
	})
}

// notification maps a path below dir to bucket and key.
func (w *DirWatcher) notification(p string) (model.Notification, bool) {
	if strings.HasPrefix(filepath.Base(p), ".") {
		return model.Notification{}, false
	}

	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return model.Notification{}, false
	}

	rel, err := filepath.Rel(w.dir, p)
	if err != nil {
		return model.Notification{}, false
	}

	bucket, key, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok || key == "" {
		w.log.Warnf("Ignoring file outside a bucket directory: path=%s", p)
		return model.Notification{}, false
	}

	if w.ignore != nil && w.ignore(bucket, key) {
		w.log.Debugf("Ignoring file: bucket=%s, key=%s", bucket, key)
		return model.Notification{}, false
	}

	return model.Notification{
		EventName: EventDirectoryPut,
		Bucket:    bucket,
		Key:       key,
		Size:      info.Size(),
	}, true
}
