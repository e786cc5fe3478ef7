package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Dir string
	// StabilityThreshold is how long a file must stay quiet before it is
	// reloaded. Defaults to 200ms.
	StabilityThreshold time.Duration
	// OnReload, if set, receives the report of every debounced reload.
	OnReload func(path string, report Report, err error)
}

// Watcher keeps the registry in sync with a directory of custom tool files.
// Created and written files are (re)loaded; removed or renamed files have
// their tools unregistered.
type Watcher struct {
	watcher   *fsnotify.Watcher
	loader    *Loader
	dir       string
	threshold time.Duration
	onReload  func(path string, report Report, err error)

	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

// NewWatcher creates a watcher that applies changes through loader.
func NewWatcher(loader *Loader, cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 200 * time.Millisecond
	}

	return &Watcher{
		watcher:        fw,
		loader:         loader,
		dir:            cfg.Dir,
		threshold:      cfg.StabilityThreshold,
		onReload:       cfg.OnReload,
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.dir).Msg("Custom tool watcher started")
	return nil
}

// Stop stops the watcher and drops pending reloads.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	clear(w.debounceTimers)
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	log.Info().Msg("Custom tool watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if isHidden(filepath.Base(event.Name)) || !IsCatalogFile(event.Name) {
				continue
			}
			w.debounce(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

// debounce collapses bursts of events on one file into a single reload of
// its final state.
func (w *Watcher) debounce(event fsnotify.Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[event.Name]; exists {
		timer.Stop()
	}

	path := event.Name
	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0

	w.debounceTimers[path] = time.AfterFunc(w.threshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		if removed {
			err := w.loader.RemoveFile(path)
			w.notify(path, Report{}, err)
			return
		}
		report, err := w.loader.LoadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			// A write raced a delete.
			_ = w.loader.RemoveFile(path)
		}
		w.notify(path, report, err)
	})
}

func (w *Watcher) notify(path string, report Report, err error) {
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Custom tool reload failed")
	}
	if w.onReload != nil {
		w.onReload(path, report, err)
	}
}
