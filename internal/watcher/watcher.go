// Package watcher reacts to changes of files under the clidesk data
// directory: settings edits and deletion of the projects directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Handlers are the callbacks for one watched path. Either may be nil.
type Handlers struct {
	// OnChange runs after the target is written or created.
	OnChange func()
	// OnDelete runs after the target (or its parent) is removed and not
	// recreated within the debounce window.
	OnDelete func()
}

// Watcher monitors one file or directory. It watches the parent directory
// since fsnotify cannot watch a path that does not exist yet.
type Watcher struct {
	targetPath string
	parentPath string
	handlers   Handlers
	watcher    *fsnotify.Watcher
	debounce   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a watcher for targetPath.
func New(targetPath string, handlers Handlers) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	target := filepath.Clean(targetPath)
	return &Watcher{
		targetPath: target,
		parentPath: filepath.Dir(target),
		handlers:   handlers,
		watcher:    fsw,
		debounce:   100 * time.Millisecond,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins watching. A missing parent is logged and retried when an
// event for it arrives.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}

	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	// The timer only ever fires into this loop, so callbacks run on this
	// goroutine and never after Stop returns.
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending func()
	)
	schedule := func(fn func()) {
		if fn == nil {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		pending = fn
		timer = time.NewTimer(w.debounce)
		timerC = timer.C
	}
	cancelPending := func() {
		if timer != nil {
			timer.Stop()
		}
		pending, timerC = nil, nil
	}
	defer cancelPending()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-timerC:
			fn := pending
			pending, timerC = nil, nil
			fn()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			switch {
			case path == w.parentPath && event.Has(fsnotify.Remove):
				log.Info().Str("path", w.parentPath).Msg("Parent directory removed")
				schedule(w.deleted)

			case path == w.parentPath && event.Has(fsnotify.Create):
				_ = w.addWatch()

			case path == w.targetPath && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)):
				log.Info().Str("path", w.targetPath).Msg("Watched path removed")
				schedule(w.deleted)

			case path == w.targetPath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)):
				if pending != nil && event.Has(fsnotify.Create) {
					log.Debug().Str("path", w.targetPath).Msg("Watched path recreated")
					cancelPending()
				}
				schedule(w.handlers.OnChange)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) deleted() {
	if w.handlers.OnDelete != nil {
		w.handlers.OnDelete()
	}
	// The parent may have been recreated by the callback.
	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to re-establish watch")
	}
}
