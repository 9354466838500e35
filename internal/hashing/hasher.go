// Package hashing digests file content and memoizes digests across
// snapshot captures.
package hashing

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// DigestSize is the length of every content digest.
const DigestSize = sha256.Size

// HashReader digests everything r yields.
func HashReader(r io.Reader) ([]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// HashBytes digests content already in memory.
func HashBytes(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}

// HashFile digests the file at path.
func HashFile(fs afero.Fs, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	digest, err := HashReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return digest, nil
}
