package model

import (
	"crypto/sha1" // #nosec
	"fmt"
)

// ProxyHash carries the (revision hash, path) pair the native store
// needs to address history-aware objects. Its wire form is the 20 byte
// revision hash immediately followed by the path bytes.
type ProxyHash struct {
	Rev  Hash20
	Path string
}

// IDFormat selects the object id encoding produced at ingest time
type IDFormat int

const (
	// FormatEmbeddedWithPath embeds revision hash and path in the id
	FormatEmbeddedWithPath IDFormat = iota

	// FormatEmbeddedHashOnly embeds only the revision hash
	FormatEmbeddedHashOnly

	// FormatIndirect writes a proxy-hash row and returns its key
	FormatIndirect
)

// Bytes serializes the proxy hash to its wire form
func (p ProxyHash) Bytes() []byte {
	buf := make([]byte, 0, Hash20Size+len(p.Path))
	buf = append(buf, p.Rev[:]...)
	buf = append(buf, p.Path...)
	return buf
}

// ByteHash returns the revision hash bytes, the node the native store
// is addressed with
func (p ProxyHash) ByteHash() []byte {
	return p.Rev[:]
}

// RowKey derives the 20 byte proxy-hash row key for the indirect
// encoding
func (p ProxyHash) RowKey() Hash20 {
	return sha1.Sum(p.Bytes()) // #nosec
}

// Embed encodes the proxy hash inline in an object id. An empty path
// degrades to the hash-only encoding.
func (p ProxyHash) Embed() ObjectID {
	if p.Path == "" {
		return p.EmbedHashOnly()
	}
	return NewObjectID(p.Bytes())
}

// EmbedHashOnly encodes only the revision hash in an object id
func (p ProxyHash) EmbedHashOnly() ObjectID {
	return NewObjectID(p.Rev[:])
}

// ParseProxyHash deserializes a proxy hash wire record
func ParseProxyHash(data []byte) (ProxyHash, error) {
	if len(data) < Hash20Size {
		return ProxyHash{}, fmt.Errorf("proxy hash record of %d bytes is shorter than a revision hash: %w",
			len(data), ErrInvalidObjectID)
	}
	rev, _ := NewHash20(data[:Hash20Size])
	return ProxyHash{Rev: rev, Path: string(data[Hash20Size:])}, nil
}

// ProxyHashFromObjectID recovers the proxy hash embedded in an object
// id without any lookup. It reports false for indirect ids and ids too
// short to carry a revision hash.
func ProxyHashFromObjectID(id ObjectID) (ProxyHash, bool) {
	if id.IsIndirect() {
		return ProxyHash{}, false
	}
	raw := id.Bytes()
	if len(raw) < Hash20Size {
		return ProxyHash{}, false
	}
	rev, _ := NewHash20(raw[:Hash20Size])
	return ProxyHash{Rev: rev, Path: string(raw[Hash20Size:])}, true
}
