// Package watch reports changes to declared paths, coalescing bursts of
// file system events.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kiln/internal/logging"
	"kiln/internal/snapshot"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 200 * time.Millisecond

// Watcher watches a set of absolute paths, recursively for directories.
type Watcher struct {
	watcher    *fsnotify.Watcher
	paths      []string
	debounce   time.Duration
	ignoreDirs map[string]bool
	logger     *zap.Logger
}

func New(paths []string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	logger = logging.OrNop(logger)
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		watcher:  watcher,
		debounce: debounce,
		ignoreDirs: map[string]bool{
			".git":         true,
			".kiln":        true,
			"node_modules": true,
		},
		logger: logger,
	}
	for _, p := range paths {
		p = filepath.Clean(p)
		w.paths = append(w.paths, p)
		if err := w.add(p); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	return w, nil
}

// add watches path: every directory of a tree, the parent of a file, or the
// closest existing ancestor of a path that does not exist yet.
func (w *Watcher) add(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		for parent := filepath.Dir(path); parent != path; path, parent = parent, filepath.Dir(parent) {
			if info, err := os.Stat(parent); err == nil && info.IsDir() {
				return w.addDir(parent)
			}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	if !info.IsDir() {
		return w.addDir(filepath.Dir(path))
	}

	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if p != path && w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		return w.addDir(p)
	})
}

func (w *Watcher) addDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("adding directory to watcher: %w", err)
	}
	return nil
}

// shouldIgnore reports whether path sits in an ignored directory below every
// watched root that contains it. Directories above a root are never matched.
func (w *Watcher) shouldIgnore(path string) bool {
	ignored := false
	for _, root := range w.paths {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !w.ignoredBelow(rel) {
			return false
		}
		ignored = true
	}
	return ignored
}

func (w *Watcher) ignoredBelow(rel string) bool {
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if w.ignoreDirs[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) relevant(path string) bool {
	return snapshot.Under(path, w.paths...) && !w.shouldIgnore(path)
}

// Run delivers batches of changed paths to onChange until ctx is done. Events
// closer together than the debounce interval are delivered as one batch.
func (w *Watcher) Run(ctx context.Context, onChange func(paths []string)) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
			if !w.relevant(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			onChange(paths)
		}
	}
}

// handleEvent follows newly created directories.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() || w.shouldIgnore(event.Name) {
		return
	}
	if err := w.add(event.Name); err != nil {
		w.logger.Error("adding new directory to watcher", zap.Error(err))
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
