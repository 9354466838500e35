// Package fileset resolves declared roots into the concrete entries a
// snapshot is captured from.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kiln/internal/errors"

	"github.com/spf13/afero"
)

// Details describes a visited file or directory.
type Details struct {
	Path string
	Info os.FileInfo
}

// Visitor receives resolved entries in visit order.
type Visitor interface {
	VisitDir(d Details)
	VisitFile(d Details)
	VisitMissing(path string)
}

// FileSet is a declared collection of files, directories and trees.
type FileSet interface {
	Visit(v Visitor) error
}

// Roots is a file set made of absolute root paths. Directory roots are
// walked recursively in lexical order, the root itself included, following
// symbolic links. Roots and links that lead nowhere are reported missing.
type Roots struct {
	fs    afero.Fs
	paths []string
}

// NewRoots validates and cleans the given absolute paths.
func NewRoots(fs afero.Fs, paths ...string) (*Roots, error) {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return nil, errors.ValidationError(fmt.Sprintf("path %q is not absolute", p), nil)
		}
		cleaned = append(cleaned, filepath.Clean(p))
	}
	return &Roots{fs: fs, paths: cleaned}, nil
}

func (r *Roots) Paths() []string {
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

func (r *Roots) Visit(v Visitor) error {
	for _, root := range r.paths {
		info, err := r.fs.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				v.VisitMissing(root)
				continue
			}
			return fmt.Errorf("stat %s: %w", root, err)
		}

		if !info.IsDir() {
			v.VisitFile(Details{Path: root, Info: info})
			continue
		}

		v.VisitDir(Details{Path: root, Info: info})
		if err := r.walk(root, []string{root}, v); err != nil {
			return fmt.Errorf("walking %s: %w", root, err)
		}
	}
	return nil
}

// walk visits the children of dir in lexical order. Symbolic links are
// followed: a link to a directory is visited and walked like one, and a
// dangling link is reported missing. stack holds the resolved directories
// being walked; a link back into one of them is visited but not descended.
func (r *Roots) walk(dir string, stack []string, v Visitor) error {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		resolved := filepath.Join(stack[len(stack)-1], entry.Name())

		info := entry
		if entry.Mode()&os.ModeSymlink != 0 {
			info, err = r.fs.Stat(path)
			if os.IsNotExist(err) {
				v.VisitMissing(path)
				continue
			}
			if err != nil {
				return err
			}
			if target, ok := r.linkTarget(path); ok {
				resolved = target
			}
		}

		d := Details{Path: path, Info: info}
		if !info.IsDir() {
			v.VisitFile(d)
			continue
		}

		v.VisitDir(d)
		if onStack(resolved, stack) {
			continue
		}
		if err := r.walk(path, append(stack, resolved), v); err != nil {
			return err
		}
	}
	return nil
}

// linkTarget resolves the symbolic link at path to a clean absolute path.
func (r *Roots) linkTarget(path string) (string, bool) {
	linker, ok := r.fs.(afero.LinkReader)
	if !ok {
		return "", false
	}
	target, err := linker.ReadlinkIfPossible(path)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Clean(target), true
}

// onStack reports whether dir is one of the directories in stack or an
// ancestor of one.
func onStack(dir string, stack []string) bool {
	for _, s := range stack {
		if s == dir || strings.HasPrefix(s, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Union visits each set in turn.
func Union(sets ...FileSet) FileSet {
	return union(sets)
}

type union []FileSet

func (u union) Visit(v Visitor) error {
	for _, s := range u {
		if s == nil {
			continue
		}
		if err := s.Visit(v); err != nil {
			return err
		}
	}
	return nil
}

// None is the file set with nothing in it.
var None FileSet = union(nil)
