package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of file
// events to settle before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a coordinator's transition table when its file changes.
//
// The directory is watched rather than the file so that editors which
// save by rename are picked up. A table that fails to load or validate is
// logged and the active table is kept.
type Watcher struct {
	path     string
	coord    *Coordinator
	debounce time.Duration
	logger   Logger
	watcher  *fsnotify.Watcher

	// OnReload, when set, is called after every reload attempt.
	OnReload func(err error)

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the table file at path.
func NewWatcher(path string, coord *Coordinator, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	return &Watcher{
		path:     abs,
		coord:    coord,
		debounce: debounce,
		logger:   noopLogger{},
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.logger = logger
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("watching transition table", "path", w.path)
	return nil
}

// Stop ends watching and waits for the loop to exit. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("transition table watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	table, err := LoadTable(w.path)
	if err == nil {
		err = w.coord.Reload(table)
	}
	if err != nil {
		w.logger.Error("transition table reload failed, keeping active table", "path", w.path, "error", err)
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}
