// Package watch reloads the config file when it is edited outside the
// process.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last event
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Reloader re-applies the config file. It reports whether anything
// changed; own writes are expected to report false.
type Reloader interface {
	Reload(ctx context.Context) (bool, error)
}

// Watcher watches the directory holding one file. Watching the directory
// rather than the file survives atomic replace-by-rename.
type Watcher struct {
	watcher  *fsnotify.Watcher
	target   Reloader
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a watcher for path. debounce <= 0 selects DefaultDebounce.
func New(path string, target Reloader, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}
	return &Watcher{
		watcher:  fw,
		target:   target,
		path:     abs,
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Close stops watching without running.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Run dispatches debounced reloads until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		mu       sync.Mutex
		debounce *time.Timer
		wg       sync.WaitGroup
	)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if debounce != nil && debounce.Stop() {
				wg.Done()
			}
			mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			if debounce != nil && debounce.Stop() {
				wg.Done()
			}
			wg.Add(1)
			debounce = time.AfterFunc(w.debounce, func() {
				defer wg.Done()
				w.reload(ctx)
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	applied, err := w.target.Reload(ctx)
	if err != nil {
		w.logger.Error("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	if applied {
		w.logger.Info("config reloaded", zap.String("path", w.path))
	}
}
