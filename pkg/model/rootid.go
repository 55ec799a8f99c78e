package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// RootID names a revision (commit) and thereby a root tree. In memory a
// root id is kept as 40 lowercase hex characters. The zero value stands
// for the null revision.
type RootID struct {
	hexed string
}

// ParseRootID accepts a 20 byte binary revision hash or its 40 character
// hex form and canonicalizes to lowercase hex.
func ParseRootID(text string) (RootID, error) {
	switch len(text) {
	case Hash20Size:
		return RootID{hexed: hex.EncodeToString([]byte(text))}, nil
	case 2 * Hash20Size:
		lowered := strings.ToLower(text)
		if _, err := hex.DecodeString(lowered); err != nil {
			return RootID{}, fmt.Errorf("root id %q is not hex: %w", text, ErrInvalidRootID)
		}
		return RootID{hexed: lowered}, nil
	case 0:
		return RootID{}, nil
	default:
		return RootID{}, fmt.Errorf("root id %q has length %d, want %d or %d: %w",
			text, len(text), Hash20Size, 2*Hash20Size, ErrInvalidRootID)
	}
}

// RootIDFromHash builds a root id from a revision hash
func RootIDFromHash(rev Hash20) RootID {
	return RootID{hexed: rev.String()}
}

// RenderRootID re-encodes a root id to its 20 byte binary form. The zero
// root renders as the null revision.
func RenderRootID(id RootID) string {
	return string(id.BinaryKey())
}

// String returns the canonical 40 character hex form
func (r RootID) String() string {
	if r.hexed == "" {
		return strings.Repeat("0", 2*Hash20Size)
	}
	return r.hexed
}

// IsZero is true for the null revision
func (r RootID) IsZero() bool {
	return r.hexed == "" || r.hexed == strings.Repeat("0", 2*Hash20Size)
}

// Hash returns the binary revision hash
func (r RootID) Hash() Hash20 {
	var h Hash20
	if r.hexed == "" {
		return h
	}
	_, _ = hex.Decode(h[:], []byte(r.hexed))
	return h
}

// BinaryKey returns the 20 byte form used to key the commit to root-tree
// keyspace
func (r RootID) BinaryKey() []byte {
	h := r.Hash()
	return h[:]
}
