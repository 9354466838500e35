// Package pack serializes named output roots into one relocatable blob and
// restores them on a cache hit.
//
// A blob is a tar archive, zstd compressed once it passes a size threshold.
// Its first member is manifest.json, naming every root and whether it was a
// file, a directory tree or absent. Root content follows under
// roots/<name>, walked in lexical order with fixed timestamps, so packing
// the same state twice gives identical bytes.
package pack

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kiln/internal/errors"

	"github.com/spf13/afero"
)

const (
	manifestName    = "manifest.json"
	rootsDir        = "roots"
	manifestVersion = 1
)

type RootKind string

const (
	KindFile    RootKind = "file"
	KindDir     RootKind = "dir"
	KindMissing RootKind = "missing"
)

// Root is a named output location. Names identify roots inside a blob;
// paths are where they live in the current build.
type Root struct {
	Name string
	Path string
}

type manifestRoot struct {
	Name string   `json:"name"`
	Kind RootKind `json:"kind"`
}

type manifest struct {
	Version int            `json:"version"`
	Roots   []manifestRoot `json:"roots"`
}

// Stats summarizes a pack or unpack.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

var epoch = time.Unix(0, 0)

type Packer struct {
	fs   afero.Fs
	comp *compressionManager
}

func New(fs afero.Fs, opts CompressionOptions) (*Packer, error) {
	comp, err := newCompressionManager(opts)
	if err != nil {
		return nil, err
	}
	return &Packer{fs: fs, comp: comp}, nil
}

func validateRoots(roots []Root) ([]Root, error) {
	sorted := make([]Root, len(roots))
	copy(sorted, roots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i, r := range sorted {
		if r.Name == "" || r.Name == "." || r.Name == ".." || strings.ContainsAny(r.Name, `/\`) {
			return nil, errors.ValidationError(fmt.Sprintf("invalid output name %q", r.Name), nil)
		}
		if i > 0 && sorted[i-1].Name == r.Name {
			return nil, errors.ValidationError(fmt.Sprintf("duplicate output name %q", r.Name), nil)
		}
		if !filepath.IsAbs(r.Path) {
			return nil, errors.ValidationError(fmt.Sprintf("output %s: path %q is not absolute", r.Name, r.Path), nil)
		}
	}
	return sorted, nil
}

// Pack archives the current state of roots.
func (p *Packer) Pack(roots []Root) ([]byte, Stats, error) {
	var stats Stats
	sorted, err := validateRoots(roots)
	if err != nil {
		return nil, stats, err
	}

	m := manifest{Version: manifestVersion, Roots: make([]manifestRoot, 0, len(sorted))}
	for _, r := range sorted {
		kind, err := p.kindOf(r.Path)
		if err != nil {
			return nil, stats, fmt.Errorf("output %s: %w", r.Name, err)
		}
		m.Roots = append(m.Roots, manifestRoot{Name: r.Name, Kind: kind})
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	data, err := json.Marshal(m)
	if err != nil {
		return nil, stats, fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := writeFile(tw, manifestName, 0644, data); err != nil {
		return nil, stats, err
	}

	for i, r := range sorted {
		base := path.Join(rootsDir, r.Name)
		switch m.Roots[i].Kind {
		case KindFile:
			info, err := p.fs.Stat(r.Path)
			if err != nil {
				return nil, stats, fmt.Errorf("output %s: %w", r.Name, err)
			}
			if err := p.packFile(tw, base, r.Path, info, &stats); err != nil {
				return nil, stats, err
			}
		case KindDir:
			if err := p.packTree(tw, base, r.Path, &stats); err != nil {
				return nil, stats, fmt.Errorf("output %s: %w", r.Name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, stats, fmt.Errorf("finishing archive: %w", err)
	}
	blob, err := p.comp.compress(buf.Bytes())
	if err != nil {
		return nil, stats, err
	}
	return blob, stats, nil
}

func (p *Packer) kindOf(path string) (RootKind, error) {
	info, err := p.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return KindMissing, nil
		}
		return "", err
	}
	if info.IsDir() {
		return KindDir, nil
	}
	return KindFile, nil
}

func (p *Packer) packTree(tw *tar.Writer, base, root string, stats *Stats) error {
	return afero.Walk(p.fs, root, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		name := path.Join(base, filepath.ToSlash(rel))

		if info.IsDir() {
			stats.Dirs++
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     name + "/",
				Mode:     int64(info.Mode().Perm()),
				ModTime:  epoch,
			})
		}
		return p.packFile(tw, name, file, info, stats)
	})
}

func (p *Packer) packFile(tw *tar.Writer, name, file string, info os.FileInfo, stats *Stats) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: unsupported file type %s", file, info.Mode().Type())
	}
	content, err := afero.ReadFile(p.fs, file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}
	stats.Files++
	stats.Bytes += int64(len(content))
	return writeFile(tw, name, info.Mode().Perm(), content)
}

func writeFile(tw *tar.Writer, name string, perm os.FileMode, content []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     int64(perm),
		Size:     int64(len(content)),
		ModTime:  epoch,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// member is one decoded archive entry, relative to its root.
type member struct {
	root    string
	rel     string
	dir     bool
	perm    os.FileMode
	content []byte
}

// Unpack restores roots from blob. Each root is cleared before it is
// materialized, so nothing from an earlier execution survives. The blob must
// name exactly the given roots; anything else is a pack format error and
// leaves the file system untouched.
func (p *Packer) Unpack(blob []byte, roots []Root) (Stats, error) {
	var stats Stats
	sorted, err := validateRoots(roots)
	if err != nil {
		return stats, err
	}

	m, members, err := p.read(blob)
	if err != nil {
		return stats, err
	}
	kinds, err := match(m, sorted)
	if err != nil {
		return stats, err
	}
	for _, mem := range members {
		if err := checkMember(mem, kinds[mem.root]); err != nil {
			return stats, err
		}
	}

	targets := make(map[string]string, len(sorted))
	for _, r := range sorted {
		targets[r.Name] = r.Path
		if err := p.fs.RemoveAll(r.Path); err != nil {
			return stats, fmt.Errorf("clearing output %s: %w", r.Name, err)
		}
	}

	// directory modes are applied last so read-only trees can still be filled
	var dirs []member
	var dirTargets []string
	for _, mem := range members {
		target := targets[mem.root]
		if mem.rel != "." {
			target = filepath.Join(target, filepath.FromSlash(mem.rel))
		}
		if mem.dir {
			if err := p.fs.MkdirAll(target, 0755); err != nil {
				return stats, fmt.Errorf("creating %s: %w", target, err)
			}
			dirs = append(dirs, mem)
			dirTargets = append(dirTargets, target)
			stats.Dirs++
			continue
		}
		if err := p.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return stats, fmt.Errorf("creating parent of %s: %w", target, err)
		}
		if err := afero.WriteFile(p.fs, target, mem.content, mem.perm); err != nil {
			return stats, fmt.Errorf("writing %s: %w", target, err)
		}
		if err := p.fs.Chmod(target, mem.perm); err != nil {
			return stats, fmt.Errorf("chmod %s: %w", target, err)
		}
		stats.Files++
		stats.Bytes += int64(len(mem.content))
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := p.fs.Chmod(dirTargets[i], dirs[i].perm); err != nil {
			return stats, fmt.Errorf("chmod %s: %w", dirTargets[i], err)
		}
	}
	return stats, nil
}

func (p *Packer) read(blob []byte) (*manifest, []member, error) {
	archive, err := p.comp.decompress(blob)
	if err != nil {
		return nil, nil, errors.PackFormat("corrupt cache entry", err)
	}

	tr := tar.NewReader(bytes.NewReader(archive))
	hdr, err := tr.Next()
	if err != nil {
		return nil, nil, errors.PackFormat("reading manifest", err)
	}
	if hdr.Name != manifestName {
		return nil, nil, errors.PackFormat(fmt.Sprintf("first member is %q, not the manifest", hdr.Name), nil)
	}
	var m manifest
	if err := json.NewDecoder(tr).Decode(&m); err != nil {
		return nil, nil, errors.PackFormat("decoding manifest", err)
	}
	if m.Version != manifestVersion {
		return nil, nil, errors.PackFormat(fmt.Sprintf("unsupported cache entry version %d", m.Version), nil)
	}

	var members []member
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.PackFormat("reading archive", err)
		}

		name := strings.TrimSuffix(hdr.Name, "/")
		rest, ok := strings.CutPrefix(name, rootsDir+"/")
		if !ok {
			return nil, nil, errors.PackFormat(fmt.Sprintf("unexpected member %q", hdr.Name), nil)
		}
		root, rel, _ := strings.Cut(rest, "/")
		if rel == "" {
			rel = "."
		} else if !filepath.IsLocal(filepath.FromSlash(rel)) || path.Clean(rel) != rel {
			return nil, nil, errors.PackFormat(fmt.Sprintf("member %q escapes its output", hdr.Name), nil)
		}

		mem := member{root: root, rel: rel, perm: os.FileMode(hdr.Mode).Perm()}
		switch hdr.Typeflag {
		case tar.TypeDir:
			mem.dir = true
		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, errors.PackFormat(fmt.Sprintf("reading %q", hdr.Name), err)
			}
			mem.content = content
		default:
			return nil, nil, errors.PackFormat(fmt.Sprintf("member %q has unsupported type %c", hdr.Name, hdr.Typeflag), nil)
		}
		members = append(members, mem)
	}
	return &m, members, nil
}

// match checks that the manifest names exactly the expected roots.
func match(m *manifest, roots []Root) (map[string]RootKind, error) {
	kinds := make(map[string]RootKind, len(m.Roots))
	for _, r := range m.Roots {
		switch r.Kind {
		case KindFile, KindDir, KindMissing:
		default:
			return nil, errors.PackFormat(fmt.Sprintf("output %s has unknown kind %q", r.Name, r.Kind), nil)
		}
		if _, dup := kinds[r.Name]; dup {
			return nil, errors.PackFormat(fmt.Sprintf("output %s listed twice", r.Name), nil)
		}
		kinds[r.Name] = r.Kind
	}

	if len(kinds) != len(roots) {
		return nil, errors.PackFormat(fmt.Sprintf("cache entry has %d outputs, expected %d", len(kinds), len(roots)), nil)
	}
	for _, r := range roots {
		if _, ok := kinds[r.Name]; !ok {
			return nil, errors.PackFormat(fmt.Sprintf("cache entry has no output %s", r.Name), nil)
		}
	}
	return kinds, nil
}

func checkMember(mem member, kind RootKind) error {
	switch kind {
	case KindFile:
		if mem.rel == "." && !mem.dir {
			return nil
		}
	case KindDir:
		if mem.rel != "." || mem.dir {
			return nil
		}
	}
	return errors.PackFormat(fmt.Sprintf("member %s/%s does not fit output kind %q", mem.root, mem.rel, kind), nil)
}
