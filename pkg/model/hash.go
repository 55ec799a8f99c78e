package model

import (
	"encoding/hex"
	"fmt"
)

const (
	// Hash20Size is the byte length of a Hash20 digest (e.g. sha1)
	Hash20Size = 20

	// Hash32Size is the byte length of a Hash32 digest (e.g. blake3)
	Hash32Size = 32
)

// Hash20 is a fixed-size 20 byte digest, such as a sha1 revision hash
type Hash20 [Hash20Size]byte

// Hash32 is a fixed-size 32 byte digest, such as a blake3 content hash
type Hash32 [Hash32Size]byte

// NewHash20 copies raw bytes into a Hash20. It fails if the input is not
// exactly Hash20Size bytes long.
func NewHash20(raw []byte) (Hash20, error) {
	var h Hash20
	if len(raw) != Hash20Size {
		return h, fmt.Errorf("hash of %d bytes, want %d: %w", len(raw), Hash20Size, ErrInvalidHash)
	}
	copy(h[:], raw)
	return h, nil
}

// NewHash32 copies raw bytes into a Hash32. It fails if the input is not
// exactly Hash32Size bytes long.
func NewHash32(raw []byte) (Hash32, error) {
	var h Hash32
	if len(raw) != Hash32Size {
		return h, fmt.Errorf("hash of %d bytes, want %d: %w", len(raw), Hash32Size, ErrInvalidHash)
	}
	copy(h[:], raw)
	return h, nil
}

// Hash20FromHex decodes a Hash20 from its hex text form
func Hash20FromHex(text string) (Hash20, error) {
	var h Hash20
	if len(text) != 2*Hash20Size {
		return h, fmt.Errorf("hash %q has length %d, want %d: %w", text, len(text), 2*Hash20Size, ErrInvalidHash)
	}
	if _, err := hex.Decode(h[:], []byte(text)); err != nil {
		return Hash20{}, fmt.Errorf("hash %q is not hex: %w", text, ErrInvalidHash)
	}
	return h, nil
}

// Hash32FromHex decodes a Hash32 from its hex text form
func Hash32FromHex(text string) (Hash32, error) {
	var h Hash32
	if len(text) != 2*Hash32Size {
		return h, fmt.Errorf("hash %q has length %d, want %d: %w", text, len(text), 2*Hash32Size, ErrInvalidHash)
	}
	if _, err := hex.Decode(h[:], []byte(text)); err != nil {
		return Hash32{}, fmt.Errorf("hash %q is not hex: %w", text, ErrInvalidHash)
	}
	return h, nil
}

// String renders the hash as lowercase hex
func (h Hash20) String() string {
	return hex.EncodeToString(h[:])
}

// String renders the hash as lowercase hex
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}
