package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a config file whenever it changes on disk. Long running
// commands use it to apply log level changes without a restart.
type Watcher struct {
	path     string
	debounce time.Duration
	changes  chan *Config
	log      *zap.SugaredLogger
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, log *zap.SugaredLogger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 100 * time.Millisecond,
		changes:  make(chan *Config, 1),
		log:      log.Named("config"),
	}
}

// Changes delivers each successfully reloaded config. Only the latest
// pending config is kept.
func (w *Watcher) Changes() <-chan *Config {
	return w.changes
}

// Start watches the file's directory so that editors replacing the file by
// rename are noticed too. It returns once the watch is established.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}

	w.log.Debugf("Watching config file: path=%s", w.path)
	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("Config watch error: error=%v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Errorf("Failed to reload config: path=%s, error=%v", w.path, err)
		return
	}

	w.log.Infof("Config reloaded: path=%s", w.path)

	// Replace any config the consumer has not picked up yet.
	select {
	case <-w.changes:
	default:
	}
	w.changes <- cfg
}
