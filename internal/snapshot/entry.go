package snapshot

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Kind discriminates the three kinds of Entry.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindMissing
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindMissing:
		return "missing"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Entry is the state recorded for a single path: a file's content digest, a
// directory marker, or a missing marker.
type Entry struct {
	kind    Kind
	digest  []byte
	modTime int64
}

var (
	// Directory is shared by every directory path.
	Directory = Entry{kind: KindDirectory}
	// Missing is shared by every declared path absent from disk.
	Missing = Entry{kind: KindMissing}
)

// FileContent records a regular file. modTime takes part only in
// content-and-metadata comparison; 0 means unknown.
func FileContent(digest []byte, modTime int64) Entry {
	return Entry{kind: KindFile, digest: digest, modTime: modTime}
}

func (e Entry) Kind() Kind      { return e.kind }
func (e Entry) Digest() []byte  { return e.digest }
func (e Entry) ModTime() int64  { return e.modTime }
func (e Entry) IsValid() bool   { return e.kind >= KindFile && e.kind <= KindMissing }
func (e Entry) IsFile() bool    { return e.kind == KindFile }
func (e Entry) IsDir() bool     { return e.kind == KindDirectory }
func (e Entry) IsMissing() bool { return e.kind == KindMissing }

// ContentEqual compares kinds and, for files, digests.
func (e Entry) ContentEqual(other Entry) bool {
	if e.kind != other.kind {
		return false
	}
	switch e.kind {
	case KindFile:
		return bytes.Equal(e.digest, other.digest)
	case KindDirectory, KindMissing:
		return true
	}
	return false
}

// ContentAndMetadataEqual additionally requires equal modification times
// for files.
func (e Entry) ContentAndMetadataEqual(other Entry) bool {
	if !e.ContentEqual(other) {
		return false
	}
	if e.kind == KindFile {
		return e.modTime == other.modTime
	}
	return true
}

func (e Entry) String() string {
	if e.kind == KindFile {
		return hex.EncodeToString(e.digest)
	}
	return e.kind.String()
}
