package storage

import (
	"encoding/hex"
	"fmt"

	"kiln/internal/errors"
)

// KeySize is the length of a cache key in bytes.
const KeySize = 64

// Key identifies a unit of work's complete fingerprint. Equality is byte
// equality.
type Key [KeySize]byte

// NewKey copies b into a Key. b must be exactly KeySize bytes.
func NewKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, errors.ValidationError(fmt.Sprintf("cache key must be %d bytes, got %d", KeySize, len(b)), nil)
	}
	copy(k[:], b)
	return k, nil
}

// ParseKey decodes the hex form produced by String.
func ParseKey(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, errors.ValidationError(fmt.Sprintf("invalid cache key %q", s), err.Error())
	}
	return NewKey(b)
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (k Key) IsZero() bool {
	return k == Key{}
}
