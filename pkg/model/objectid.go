package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// IndirectIDSize is the byte size of a legacy indirect object id: a
	// fixed tag followed by the 20 byte key of a proxy-hash row.
	IndirectIDSize = 32

	indirectTextSize = 46 // len("proxy-") + 40 hex characters
	indirectPrefix   = "proxy-"
)

// indirectTag pads legacy indirect ids to their fixed 32 byte length and
// distinguishes them from embedded encodings.
var indirectTag = [IndirectIDSize - Hash20Size]byte{'p', 'r', 'o', 'x', 'y', '-', 'k', 'e', 'y', '-', 'v', '1'}

// ObjectID is an opaque identifier for a tree or blob version. Two
// object ids are equal iff their bytes are equal. The byte space is
// shared by three encodings:
//
//   - embedded hash only: 20 bytes, the revision hash itself
//   - embedded with path: 20 byte revision hash followed by the path
//   - legacy indirect: 32 bytes, a fixed tag and the binary key of a
//     row in the proxy-hash keyspace
type ObjectID struct {
	raw string
}

// NewObjectID wraps raw object id bytes
func NewObjectID(raw []byte) ObjectID {
	return ObjectID{raw: string(raw)}
}

// Bytes returns the raw object id bytes
func (id ObjectID) Bytes() []byte {
	return []byte(id.raw)
}

// Equal is true when both ids have identical bytes
func (id ObjectID) Equal(other ObjectID) bool {
	return id.raw == other.raw
}

// IsEmpty is true for the zero object id
func (id ObjectID) IsEmpty() bool {
	return id.raw == ""
}

// IsIndirect is true when the id is a legacy indirect key into the
// proxy-hash keyspace
func (id ObjectID) IsIndirect() bool {
	return len(id.raw) == IndirectIDSize && strings.HasPrefix(id.raw, string(indirectTag[:]))
}

// IndirectKey returns the 20 byte row key of an indirect id
func (id ObjectID) IndirectKey() []byte {
	return []byte(id.raw[len(indirectTag):])
}

// String renders the id in its stable text form
func (id ObjectID) String() string {
	return RenderObjectID(id)
}

// IndirectObjectID builds a legacy indirect object id from the binary
// key of a proxy-hash row
func IndirectObjectID(rowKey Hash20) ObjectID {
	return ObjectID{raw: string(indirectTag[:]) + string(rowKey[:])}
}

// ParseObjectID parses the stable text form of an object id. Accepted
// shapes are "proxy-{40hex}", "{40hex}" and "{40hex}:{path}". Anything
// else fails with ErrInvalidObjectID.
func ParseObjectID(text string) (ObjectID, error) {
	if strings.HasPrefix(text, indirectPrefix) {
		if len(text) != indirectTextSize {
			return ObjectID{}, fmt.Errorf("indirect object id %q has length %d, want %d: %w",
				text, len(text), indirectTextSize, ErrInvalidObjectID)
		}
		rowKey, err := Hash20FromHex(text[len(indirectPrefix):])
		if err != nil {
			return ObjectID{}, fmt.Errorf("indirect object id %q: %w", text, ErrInvalidObjectID)
		}
		return IndirectObjectID(rowKey), nil
	}

	if len(text) == 2*Hash20Size {
		rev, err := Hash20FromHex(text)
		if err != nil {
			return ObjectID{}, fmt.Errorf("object id %q: %w", text, ErrInvalidObjectID)
		}
		return ProxyHash{Rev: rev}.EmbedHashOnly(), nil
	}

	if len(text) < 2*Hash20Size+1 {
		return ObjectID{}, fmt.Errorf("object id %q too short: %w", text, ErrInvalidObjectID)
	}
	if text[2*Hash20Size] != ':' {
		return ObjectID{}, fmt.Errorf("object id %q misses the separator colon: %w", text, ErrInvalidObjectID)
	}
	rev, err := Hash20FromHex(text[:2*Hash20Size])
	if err != nil {
		return ObjectID{}, fmt.Errorf("object id %q: %w", text, ErrInvalidObjectID)
	}
	path := text[2*Hash20Size+1:]
	if strings.IndexByte(path, 0) >= 0 {
		return ObjectID{}, fmt.Errorf("object id %q carries a NUL in its path: %w", text, ErrInvalidObjectID)
	}
	return ProxyHash{Rev: rev, Path: path}.Embed(), nil
}

// RenderObjectID is the inverse of ParseObjectID
func RenderObjectID(id ObjectID) string {
	if id.IsIndirect() {
		return indirectPrefix + hex.EncodeToString(id.IndirectKey())
	}
	if proxy, ok := ProxyHashFromObjectID(id); ok {
		if proxy.Path == "" {
			return proxy.Rev.String()
		}
		return proxy.Rev.String() + ":" + proxy.Path
	}
	// ids shorter than a revision hash have no text form; render hex so
	// logs stay readable
	return hex.EncodeToString(id.Bytes())
}
