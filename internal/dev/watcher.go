package dev

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// ChangeType represents the type of file change.
type ChangeType int

const (
	// ChangeWrite covers created and modified files.
	ChangeWrite ChangeType = iota
	// ChangeRemove covers removed and renamed-away files.
	ChangeRemove
)

func (t ChangeType) String() string {
	if t == ChangeRemove {
		return "remove"
	}
	return "write"
}

// Change represents a detected file change.
type Change struct {
	// Path is absolute.
	Path string
	Type ChangeType
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Base is the directory watched recursively.
	Base string

	// Ignore contains doublestar patterns matched against base-relative,
	// slash-separated paths.
	Ignore []string

	// Debounce is the quiet period before changes are reported.
	Debounce time.Duration

	Logger *slog.Logger
}

// Watcher monitors a directory tree and reports debounced batches of
// changes.
type Watcher struct {
	config   WatcherConfig
	fsw      *fsnotify.Watcher
	onChange func([]Change)
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	pending map[string]ChangeType
	timer   *time.Timer
}

// NewWatcher creates a watcher and registers every non-ignored directory
// under the base.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	for _, pattern := range config.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pattern)
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		config:  config,
		fsw:     fsw,
		logger:  logger.With("component", "watch"),
		pending: make(map[string]ChangeType),
	}
	if err := w.addDirectories(config.Base); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// OnChange sets the callback for change batches.
func (w *Watcher) OnChange(fn func([]Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start processes events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(evt)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.fsw.Close()
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) handleEvent(evt fsnotify.Event) {
	if w.shouldIgnore(evt.Name) {
		return
	}

	typ := ChangeWrite
	switch {
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		typ = ChangeRemove
	case evt.Has(fsnotify.Create):
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.addDirectories(evt.Name); err != nil {
				w.logger.Warn("watch directory", "path", evt.Name, "error", err)
			}
			return
		}
	case evt.Has(fsnotify.Write):
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[evt.Name] = typ
	if w.timer == nil {
		w.timer = time.AfterFunc(w.config.Debounce, w.flush)
	} else {
		w.timer.Reset(w.config.Debounce)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	callback := w.onChange
	changes := make([]Change, 0, len(w.pending))
	for p, typ := range w.pending {
		changes = append(changes, Change{Path: p, Type: typ})
	}
	clear(w.pending)
	w.mu.Unlock()

	if callback == nil || len(changes) == 0 {
		return
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	callback(changes)
}

// addDirectories adds dir and every non-ignored directory below it.
func (w *Watcher) addDirectories(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("skipping inaccessible path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.config.Base && w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", p, err)
		}
		return nil
	})
}

// shouldIgnore checks if a path should be ignored.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	rel, err := filepath.Rel(w.config.Base, fullPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.config.Ignore {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}
