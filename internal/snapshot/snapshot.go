// Package snapshot models point-in-time file system state for a declared file
// set and the diff and merge operations used for up-to-date checking and
// output tracking.
//
// A Snapshot maps canonical absolute paths to an Entry and keeps the order in
// which paths were added. Snapshots are immutable; every merge produces a new
// instance. Iteration and diff order follow that insertion order and are not
// sorted.
package snapshot

import (
	"path/filepath"
	"strings"
	"unique"
)

// Snapshot is an immutable, insertion-ordered path -> Entry mapping.
type Snapshot struct {
	paths   []string
	entries map[string]Entry
}

// Empty is the canonical snapshot with no entries.
var Empty = &Snapshot{}

// Intern returns the canonical copy of a path so that repeated snapshots of
// the same tree share path storage.
func Intern(path string) string {
	return unique.Make(path).Value()
}

// Builder accumulates entries for a new Snapshot. The first entry added for a
// path wins.
type Builder struct {
	paths   []string
	entries map[string]Entry
}

func NewBuilder(capacity int) *Builder {
	return &Builder{
		paths:   make([]string, 0, capacity),
		entries: make(map[string]Entry, capacity),
	}
}

// Add records e for path unless path already has an entry. It reports
// whether the entry was added.
func (b *Builder) Add(path string, e Entry) bool {
	if _, ok := b.entries[path]; ok {
		return false
	}
	b.paths = append(b.paths, path)
	b.entries[path] = e
	return true
}

func (b *Builder) Has(path string) bool {
	_, ok := b.entries[path]
	return ok
}

func (b *Builder) Len() int { return len(b.paths) }

// Build returns the snapshot and resets the builder. Zero entries yield Empty.
func (b *Builder) Build() *Snapshot {
	if len(b.paths) == 0 {
		return Empty
	}
	s := &Snapshot{paths: b.paths, entries: b.entries}
	b.paths, b.entries = nil, make(map[string]Entry)
	return s
}

// orEmpty lets callers pass nil where no snapshot is recorded yet.
func orEmpty(s *Snapshot) *Snapshot {
	if s == nil {
		return Empty
	}
	return s
}

func (s *Snapshot) Len() int {
	return len(orEmpty(s).paths)
}

func (s *Snapshot) IsEmpty() bool {
	return s.Len() == 0
}

// Get returns the entry recorded for path.
func (s *Snapshot) Get(path string) (Entry, bool) {
	e, ok := orEmpty(s).entries[path]
	return e, ok
}

func (s *Snapshot) Has(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// Paths returns the recorded paths in insertion order.
func (s *Snapshot) Paths() []string {
	s = orEmpty(s)
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (s *Snapshot) Range(fn func(path string, e Entry) bool) {
	s = orEmpty(s)
	for _, p := range s.paths {
		if !fn(p, s.entries[p]) {
			return
		}
	}
}

// Filter returns the entries for which keep reports true, in order.
func (s *Snapshot) Filter(keep func(path string, e Entry) bool) *Snapshot {
	b := NewBuilder(s.Len())
	s.Range(func(path string, e Entry) bool {
		if keep(path, e) {
			b.Add(path, e)
		}
		return true
	})
	return b.Build()
}

// Restrict keeps only the paths also recorded in keys.
func (s *Snapshot) Restrict(keys *Snapshot) *Snapshot {
	return s.Filter(func(path string, _ Entry) bool {
		return keys.Has(path)
	})
}

// Under reports whether path is one of roots or nested beneath one.
func Under(path string, roots ...string) bool {
	for _, root := range roots {
		sep := string(filepath.Separator)
		if path == root || strings.HasPrefix(path, strings.TrimSuffix(root, sep)+sep) {
			return true
		}
	}
	return false
}

// Equal reports whether both snapshots record the same paths with
// content-equal entries. Order is ignored.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	equal := true
	s.Range(func(path string, e Entry) bool {
		o, ok := other.Get(path)
		equal = ok && e.ContentEqual(o)
		return equal
	})
	return equal
}
