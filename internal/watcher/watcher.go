// Package watcher reports batches of source changes under a root so an
// analysis can be re-run after each quiet period.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
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

// Event is one changed path, relative to the root with forward slashes.
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// ChangeHandler receives each debounced batch, sorted by path. A returned
// error stops Run.
type ChangeHandler func(ctx context.Context, events []Event) error

// Filter decides which root-relative paths are watched. source.Loader
// satisfies it.
type Filter interface {
	Candidate(rel string, dir bool) bool
}

// Watcher watches a directory tree.
type Watcher struct {
	root     string
	filter   Filter
	debounce time.Duration
	logger   *slog.Logger

	fs   *fsnotify.Watcher
	dirs map[string]struct{}
}

// New registers a watch on root and on every directory below it that filter
// accepts.
func New(root string, filter Filter, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		filter:   filter,
		debounce: debounce,
		logger:   logger,
		fs:       fw,
		dirs:     make(map[string]struct{}),
	}
	if _, err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	logger.Info("Watching directory tree", "root", root, "dirs", len(w.dirs), "debounce", debounce)
	return w, nil
}

// Close releases the underlying watches.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// WatchedDirs returns the number of directories under watch.
func (w *Watcher) WatchedDirs() int {
	return len(w.dirs)
}

// Run delivers batches to onChange until ctx is cancelled, which returns nil.
// onChange runs on the Run goroutine, so events arriving meanwhile join the
// next batch.
func (w *Watcher) Run(ctx context.Context, onChange ChangeHandler) error {
	pending := make(map[string]Event)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handle(ev, pending) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]Event, 0, len(pending))
			for _, ev := range pending {
				batch = append(batch, ev)
			}
			sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
			clear(pending)

			w.logger.Debug("Changes detected", "events", len(batch))
			if err := onChange(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// handle folds one notification into pending and reports whether it counted.
func (w *Watcher) handle(ev fsnotify.Event, pending map[string]Event) bool {
	rel, ok := w.rel(ev.Name)
	if !ok {
		return false
	}
	now := time.Now()

	if _, watched := w.dirs[ev.Name]; watched && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		delete(w.dirs, ev.Name)
		pending[rel] = Event{Type: EventDelete, Path: rel, Timestamp: now}
		return true
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.filter.Candidate(rel, true) {
				return false
			}
			files, err := w.addTree(ev.Name)
			if err != nil {
				w.logger.Warn("Failed to watch new directory", "path", rel, "error", err)
			}
			// Files written before the watch was in place are only seen here.
			for _, f := range files {
				pending[f] = Event{Type: EventCreate, Path: f, Timestamp: now}
			}
			return len(files) > 0
		}
	}

	typ, ok := eventType(ev.Op)
	if !ok || !w.filter.Candidate(rel, false) {
		return false
	}
	if prev, seen := pending[rel]; seen && prev.Type == EventCreate && typ == EventModify {
		typ = EventCreate
	}
	pending[rel] = Event{Type: typ, Path: rel, Timestamp: now}
	return true
}

// addTree watches dir and its accepted subdirectories, returning the
// candidate files found on the way.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil
		}
		if !d.IsDir() {
			if rel != "." && w.filter.Candidate(rel, false) {
				files = append(files, rel)
			}
			return nil
		}
		if rel != "." && !w.filter.Candidate(rel, true) {
			return filepath.SkipDir
		}
		if _, seen := w.dirs[p]; seen {
			return nil
		}
		if err := w.fs.Add(p); err != nil {
			w.logger.Warn("Failed to add watch", "path", rel, "error", err)
			return nil
		}
		w.dirs[p] = struct{}{}
		return nil
	})
	return files, err
}

func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func eventType(op fsnotify.Op) (EventType, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return EventCreate, true
	case op&fsnotify.Write != 0:
		return EventModify, true
	case op&fsnotify.Remove != 0:
		return EventDelete, true
	case op&fsnotify.Rename != 0:
		return EventRename, true
	}
	return 0, false
}
