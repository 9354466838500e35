// Package snapshotter captures file sets into snapshots using the shared
// content hash cache.
package snapshotter

import (
	"fmt"

	"kiln/internal/errors"
	"kiln/internal/fileset"
	"kiln/internal/hashing"
	"kiln/internal/logging"
	"kiln/internal/snapshot"

	"go.uber.org/zap"
)

type Snapshotter struct {
	hashes *hashing.Cache
	logger *zap.Logger
}

func New(hashes *hashing.Cache, logger *zap.Logger) *Snapshotter {
	logger = logging.OrNop(logger)
	return &Snapshotter{hashes: hashes, logger: logger}
}

// collector records what a file set resolves to before anything is hashed.
type collector struct {
	visited []fileset.Details
	missing []string
}

func (c *collector) VisitDir(d fileset.Details)  { c.visited = append(c.visited, d) }
func (c *collector) VisitFile(d fileset.Details) { c.visited = append(c.visited, d) }
func (c *collector) VisitMissing(path string)    { c.missing = append(c.missing, path) }

// Capture resolves files and snapshots it. A declaration that resolves to
// nothing yields snapshot.Empty. Each distinct path is hashed once; a path
// both visited and reported missing is recorded as present.
func (s *Snapshotter) Capture(files fileset.FileSet) (*snapshot.Snapshot, error) {
	var c collector
	if err := files.Visit(&c); err != nil {
		return nil, errors.SnapshotFault("resolving file set", err)
	}
	if len(c.visited) == 0 && len(c.missing) == 0 {
		return snapshot.Empty, nil
	}

	lease := s.hashes.Acquire(true)
	defer lease.Release()

	b := snapshot.NewBuilder(len(c.visited) + len(c.missing))
	for _, d := range c.visited {
		path := snapshot.Intern(d.Path)
		if b.Has(path) {
			continue
		}
		if d.Info.IsDir() {
			b.Add(path, snapshot.Directory)
			continue
		}
		digest, err := lease.Hash(path, d.Info)
		if err != nil {
			return nil, errors.SnapshotFault(fmt.Sprintf("hashing %s", path), err)
		}
		b.Add(path, snapshot.FileContent(digest, d.Info.ModTime().UnixNano()))
	}
	for _, p := range c.missing {
		b.Add(snapshot.Intern(p), snapshot.Missing)
	}

	snap := b.Build()
	s.logger.Debug("captured snapshot",
		zap.Int("entries", snap.Len()),
		zap.Int("missing", len(c.missing)))
	return snap, nil
}
