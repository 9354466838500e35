package snapshot

import "fmt"

// ChangeType indicates how a path differs between two snapshots.
type ChangeType int

const (
	Added ChangeType = iota + 1
	Changed
	Removed
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("change(%d)", int(t))
}

// Change is a single difference produced by a ChangeIterator.
type Change struct {
	Type ChangeType
	Path string
}

func (c Change) String() string {
	return c.Type.String() + " " + c.Path
}

// ChangeIterator lazily walks the differences between a current and a
// previous snapshot. It is single pass; start a new one to rescan.
type ChangeIterator struct {
	current  *Snapshot
	previous *Snapshot
	pos      int

	// remaining holds previous paths not yet matched by a current path.
	remaining map[string]struct{}
	removed   []string
	removing  bool
}

// IterateChanges returns a cursor over the changes from previous to current.
// Added and Changed come first, in current's order, using content-only
// comparison. Removed paths follow in previous's order.
func IterateChanges(current, previous *Snapshot) *ChangeIterator {
	current, previous = orEmpty(current), orEmpty(previous)
	remaining := make(map[string]struct{}, len(previous.paths))
	for _, p := range previous.paths {
		remaining[p] = struct{}{}
	}
	return &ChangeIterator{
		current:   current,
		previous:  previous,
		remaining: remaining,
	}
}

// IterateChangesSince is IterateChanges with s as the current snapshot.
func (s *Snapshot) IterateChangesSince(previous *Snapshot) *ChangeIterator {
	return IterateChanges(s, previous)
}

// Next returns the next change, or false once the iterator is exhausted.
func (it *ChangeIterator) Next() (Change, bool) {
	for it.pos < len(it.current.paths) {
		path := it.current.paths[it.pos]
		it.pos++

		old, ok := it.previous.entries[path]
		if !ok {
			return Change{Type: Added, Path: path}, true
		}
		delete(it.remaining, path)
		if !it.current.entries[path].ContentEqual(old) {
			return Change{Type: Changed, Path: path}, true
		}
	}

	if !it.removing {
		it.removing = true
		for _, p := range it.previous.paths {
			if _, ok := it.remaining[p]; ok {
				it.removed = append(it.removed, p)
			}
		}
		it.remaining = nil
	}
	if len(it.removed) > 0 {
		path := it.removed[0]
		it.removed = it.removed[1:]
		return Change{Type: Removed, Path: path}, true
	}
	return Change{}, false
}

// HasChanges reports whether current differs from previous, stopping at the
// first change found.
func HasChanges(current, previous *Snapshot) (Change, bool) {
	return IterateChanges(current, previous).Next()
}

// Changes drains the iterator.
func Changes(current, previous *Snapshot) []Change {
	var out []Change
	it := IterateChanges(current, previous)
	for {
		c, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

// mergeListener applies diff events to a copy of a target snapshot. A path
// is never both put and removed within one merge.
type mergeListener struct {
	paths   []string
	entries map[string]Entry
}

func newMergeListener(target *Snapshot) *mergeListener {
	target = orEmpty(target)
	m := &mergeListener{
		paths:   make([]string, len(target.paths)),
		entries: make(map[string]Entry, len(target.paths)),
	}
	copy(m.paths, target.paths)
	for p, e := range target.entries {
		m.entries[p] = e
	}
	return m
}

func (m *mergeListener) put(path string, e Entry) {
	if _, ok := m.entries[path]; !ok {
		m.paths = append(m.paths, path)
	}
	m.entries[path] = e
}

func (m *mergeListener) remove(path string) {
	delete(m.entries, path)
}

func (m *mergeListener) result() *Snapshot {
	b := NewBuilder(len(m.entries))
	for _, p := range m.paths {
		if e, ok := m.entries[p]; ok {
			b.Add(p, e)
		}
	}
	return b.Build()
}

// UpdateFrom rolls s forward: entries of incoming that are new or differ by
// content replace or extend those of s. Paths recorded only in s are kept.
func (s *Snapshot) UpdateFrom(incoming *Snapshot) *Snapshot {
	merged := newMergeListener(s)
	incoming.Range(func(path string, e Entry) bool {
		old, ok := s.Get(path)
		if !ok || !e.ContentEqual(old) {
			merged.put(path, e)
		}
		return true
	})
	return merged.result()
}

// ApplyChangesSince computes the changes from old to s using content and
// metadata comparison, then applies additions and changes to target and
// removes from target every path that disappeared.
func (s *Snapshot) ApplyChangesSince(old, target *Snapshot) *Snapshot {
	merged := newMergeListener(target)
	diff(orEmpty(s), orEmpty(old), merged)
	return merged.result()
}

func diff(current, old *Snapshot, merged *mergeListener) {
	for _, path := range current.paths {
		e := current.entries[path]
		prev, ok := old.entries[path]
		if !ok || !e.ContentAndMetadataEqual(prev) {
			merged.put(path, e)
		}
	}
	for _, path := range old.paths {
		if _, ok := current.entries[path]; !ok {
			merged.remove(path)
		}
	}
}
