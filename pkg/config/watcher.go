package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Loader's file on change and atomically swaps a Snapshot
// pointer, debouncing bursts of filesystem events (editors commonly emit
// several writes for one save).
type Watcher struct {
	loader   *Loader
	current  *atomic.Pointer[Snapshot]
	log      zerolog.Logger
	debounce time.Duration
	onReload func()

	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher builds a Watcher around loader, storing snapshots in current.
// onReload, if non-nil, runs after every successful reload (used to clear
// the C4 client cache).
func NewWatcher(loader *Loader, current *atomic.Pointer[Snapshot], log zerolog.Logger, onReload func()) *Watcher {
	return &Watcher{
		loader:   loader,
		current:  current,
		log:      log,
		debounce: 200 * time.Millisecond,
		onReload: onReload,
	}
}

// Start loads the initial snapshot and begins watching the config file's
// directory for changes. It returns once the watch is set up, or with the
// error that prevented it; the reload loop runs in a background goroutine
// until Stop is called.
func (w *Watcher) Start() error {
	snap, err := w.loader.Load()
	if err != nil {
		return err
	}
	w.current.Store(snap)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.loader.Path)); err != nil {
		fsw.Close()
		return fmt.Errorf("config: watch %s: %w", w.loader.Path, err)
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.loop()
	return nil
}

// Stop stops the background watch goroutine and releases the fsnotify
// watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stopCh := w.stopCh
	w.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-w.doneCh
	w.fsw.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.loader.Path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	snap, err := w.loader.Load()
	if err != nil {
		w.log.Error().Err(err).Str("path", w.loader.Path).Msg("config reload failed, keeping previous snapshot")
		return
	}

	w.current.Store(snap)
	w.log.Info().Strs("providers", snap.ProviderNames()).Msg("config reloaded")

	if w.onReload != nil {
		w.onReload()
	}
}
