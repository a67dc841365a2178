// Package watcher reports debounced batches of file changes below a set of
// search roots.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"codetax/internal/paths"
	"codetax/internal/slogutil"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// ChangeHandler is called with each debounced batch of changes
type ChangeHandler func(events []Event)

// Config contains watcher configuration
type Config struct {
	DebounceMs int `json:"debounceMs" mapstructure:"debounceMs"`
	// IgnorePatterns are doublestar globs matched against slash-separated
	// paths relative to the watched root.
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns"`
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		DebounceMs: 500,
		IgnorePatterns: []string{
			"**/*.log",
			"**/*.tmp",
			"**/*.swp",
			"**/node_modules/**",
			"**/.git/**",
			"**/" + paths.DataDirName + "/**",
		},
	}
}

// Watcher watches search roots for file changes
type Watcher struct {
	config    Config
	logger    *slog.Logger
	fsw       *fsnotify.Watcher
	debouncer *BatchDebouncer

	mu    sync.RWMutex
	roots []string
}

// New creates a watcher. handler receives every debounced batch.
func New(config Config, logger *slog.Logger, handler ChangeHandler) (*Watcher, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{config: config, logger: logger, fsw: fsw}
	w.debouncer = NewBatchDebouncer(time.Duration(config.DebounceMs)*time.Millisecond, func(events []Event) {
		w.logger.Debug("Changes detected", "eventCount", len(events))
		if handler != nil {
			handler(events)
		}
	})
	return w, nil
}

// Add watches root and every directory below it that is not ignored or hidden.
// A root inside an already watched root is covered by it and not added again.
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	for _, existing := range w.WatchedRoots() {
		if paths.IsWithin(abs, existing) {
			w.logger.Debug("Directory already watched", "path", abs, "root", existing)
			return nil
		}
	}
	if err := w.addRecursive(abs, abs); err != nil {
		return err
	}

	w.mu.Lock()
	w.roots = append(w.roots, abs)
	w.mu.Unlock()

	w.logger.Info("Watching directory", "path", abs)
	return nil
}

func (w *Watcher) addRecursive(root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || w.ignored(root, path+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Run processes file system events until ctx is done. Pending changes are
// dropped on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.debouncer.Cancel()
	defer func() { _ = w.fsw.Close() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	root := w.rootOf(event.Name)
	if root == "" || w.ignored(root, event.Name) {
		return
	}

	var typ EventType
	switch {
	case event.Has(fsnotify.Create):
		typ = EventCreate
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(root, event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	case event.Has(fsnotify.Write):
		typ = EventModify
	case event.Has(fsnotify.Remove):
		typ = EventDelete
	case event.Has(fsnotify.Rename):
		typ = EventRename
	default:
		return
	}

	w.debouncer.Add(Event{Type: typ, Path: event.Name, Timestamp: time.Now()})
}

func (w *Watcher) rootOf(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

func (w *Watcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasSuffix(path, "/") {
		rel += "/"
	}
	return w.IsIgnored(rel)
}

// IsIgnored checks if a root-relative path matches the ignore patterns
func (w *Watcher) IsIgnored(rel string) bool {
	for _, pattern := range w.config.IgnorePatterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// a directory pattern such as **/node_modules/** also covers the
		// directory itself
		if strings.HasSuffix(rel, "/") {
			if ok, _ := doublestar.Match(pattern, rel+"x"); ok {
				return true
			}
		}
	}
	return false
}

// WatchedRoots returns the watched roots in sorted order
func (w *Watcher) WatchedRoots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	roots := append([]string(nil), w.roots...)
	sort.Strings(roots)
	return roots
}
