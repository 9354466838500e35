// Package identity derives cache keys from what a unit of work is: its
// action, its environment, the content of its inputs and the names of its
// outputs.
package identity

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"path/filepath"
	"sort"

	"kiln/internal/errors"
	"kiln/internal/execution"
	"kiln/internal/logging"
	"kiln/internal/snapshot"
	"kiln/internal/snapshotter"
	"kiln/internal/storage"

	"github.com/minio/blake2b-simd"
	"go.uber.org/zap"
)

const keyVersion = "kiln-key-v1"

// Identity is the part of a unit of work's fingerprint that does not come
// from files.
type Identity struct {
	// Root makes input paths relative so keys survive moving the workspace.
	Root    string
	Command []string
	Env     map[string]string
}

// Identified is implemented by work that can describe itself.
type Identified interface {
	Identity() (Identity, bool)
}

// Provider computes blake2b-512 cache keys.
type Provider struct {
	snapshots *snapshotter.Snapshotter
	logger    *zap.Logger
}

func NewProvider(snapshots *snapshotter.Snapshotter, logger *zap.Logger) *Provider {
	logger = logging.OrNop(logger)
	return &Provider{snapshots: snapshots, logger: logger}
}

func (p *Provider) CacheKey(ctx context.Context, work execution.Work) (storage.Key, error) {
	if err := ctx.Err(); err != nil {
		return storage.Key{}, errors.KeyUnavailable("computing cache key", err)
	}

	identified, ok := work.(Identified)
	if !ok {
		return storage.Key{}, errors.KeyUnavailable(fmt.Sprintf("%s does not describe its identity", work.Name()), nil)
	}
	id, ok := identified.Identity()
	if !ok {
		return storage.Key{}, errors.KeyUnavailable(fmt.Sprintf("%s has no stable identity", work.Name()), nil)
	}

	inputs, err := p.snapshots.Capture(work.Inputs())
	if err != nil {
		return storage.Key{}, errors.KeyUnavailable(fmt.Sprintf("capturing inputs of %s", work.Name()), err)
	}

	h := blake2b.New512()
	writeField(h, keyVersion)
	writeField(h, work.Name())

	writeCount(h, len(id.Command))
	for _, arg := range id.Command {
		writeField(h, arg)
	}

	names := make([]string, 0, len(id.Env))
	for name := range id.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	writeCount(h, len(names))
	for _, name := range names {
		writeField(h, name)
		writeField(h, id.Env[name])
	}

	if err := writeInputs(h, id.Root, inputs); err != nil {
		return storage.Key{}, err
	}

	outputs := work.Outputs()
	outNames := make([]string, 0, len(outputs))
	for _, o := range outputs {
		outNames = append(outNames, o.Name)
	}
	sort.Strings(outNames)
	writeCount(h, len(outNames))
	for _, name := range outNames {
		writeField(h, name)
	}

	key, err := storage.NewKey(h.Sum(nil))
	if err != nil {
		return storage.Key{}, errors.KeyUnavailable("sizing cache key", err)
	}
	logging.ForTask(p.logger, work.Name()).Debug("computed cache key",
		zap.Stringer("key", key),
		zap.Int("inputs", inputs.Len()))
	return key, nil
}

// writeInputs hashes inputs in path order. A declared input that does not
// exist makes the work non-deterministic, so no key is produced.
func writeInputs(h hash.Hash, root string, inputs *snapshot.Snapshot) error {
	paths := inputs.Paths()
	sort.Strings(paths)
	writeCount(h, len(paths))

	for _, path := range paths {
		e, _ := inputs.Get(path)
		if e.IsMissing() {
			return errors.KeyUnavailable(fmt.Sprintf("input %s does not exist", path), nil)
		}
		writeField(h, relative(root, path))
		writeField(h, e.Kind().String())
		if e.IsFile() {
			writeBytes(h, e.Digest())
		}
	}
	return nil
}

func relative(root, path string) string {
	if root == "" || !snapshot.Under(path, root) {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func writeCount(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}

func writeBytes(h hash.Hash, b []byte) {
	writeCount(h, len(b))
	h.Write(b)
}

func writeField(h hash.Hash, s string) {
	writeBytes(h, []byte(s))
}
