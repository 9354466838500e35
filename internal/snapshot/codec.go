package snapshot

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"kiln/internal/errors"
)

// emptyForm is the persisted form of Empty.
var emptyForm = []byte("[]")

// record is the persisted form of one entry. Modification times are not
// persisted; decoded files carry an unknown (zero) time.
type record struct {
	Path string `json:"p"`
	Kind string `json:"k"`
	Hash string `json:"h,omitempty"`
}

const (
	recordFile      = "f"
	recordDirectory = "d"
	recordMissing   = "m"
)

// Encode serializes s, preserving entry order.
func Encode(s *Snapshot) ([]byte, error) {
	if s.IsEmpty() {
		return append([]byte(nil), emptyForm...), nil
	}

	records := make([]record, 0, s.Len())
	var err error
	s.Range(func(path string, e Entry) bool {
		if !e.IsValid() {
			err = errors.Internal(fmt.Sprintf("encoding %s: invalid entry kind %s", path, e.Kind()), nil)
			return false
		}
		r := record{Path: path}
		switch e.Kind() {
		case KindFile:
			r.Kind = recordFile
			r.Hash = hex.EncodeToString(e.Digest())
		case KindDirectory:
			r.Kind = recordDirectory
		case KindMissing:
			r.Kind = recordMissing
		}
		records = append(records, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(records)
}

// Decode parses data produced by Encode. The empty form decodes to Empty.
func Decode(data []byte) (*Snapshot, error) {
	if bytes.Equal(bytes.TrimSpace(data), emptyForm) {
		return Empty, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if records == nil {
		return nil, fmt.Errorf("decoding snapshot: not an entry list")
	}

	b := NewBuilder(len(records))
	for _, r := range records {
		if r.Path == "" {
			return nil, fmt.Errorf("decoding snapshot: entry without path")
		}
		var e Entry
		switch r.Kind {
		case recordFile:
			digest, err := hex.DecodeString(r.Hash)
			if err != nil {
				return nil, fmt.Errorf("decoding snapshot entry %s: %w", r.Path, err)
			}
			e = FileContent(digest, 0)
		case recordDirectory:
			e = Directory
		case recordMissing:
			e = Missing
		default:
			return nil, fmt.Errorf("decoding snapshot entry %s: unknown kind %q", r.Path, r.Kind)
		}
		if !b.Add(Intern(r.Path), e) {
			return nil, fmt.Errorf("decoding snapshot: duplicate path %s", r.Path)
		}
	}
	return b.Build(), nil
}
