package model

import (
	"crypto/sha1" // #nosec
	"github.com/zeebo/blake3"
)

// Blob is the immutable byte content of one file version
type Blob struct {
	data []byte
}

// NewBlob wraps blob bytes. The blob takes ownership of the slice.
func NewBlob(data []byte) *Blob {
	return &Blob{data: data}
}

// Bytes returns the blob content. Callers must not mutate it.
func (b *Blob) Bytes() []byte {
	return b.data
}

// Size is the content length in bytes
func (b *Blob) Size() uint64 {
	return uint64(len(b.data))
}

// SHA1 computes the sha1 content digest
func (b *Blob) SHA1() Hash20 {
	return sha1.Sum(b.data) // #nosec
}

// Blake3 computes the blake3 content digest
func (b *Blob) Blake3() Hash32 {
	return blake3.Sum256(b.data)
}

// Aux computes the full aux data record of the blob
func (b *Blob) Aux() BlobAuxData {
	return BlobAuxData{
		SHA1:   b.SHA1(),
		Blake3: b.Blake3(),
		Size:   b.Size(),
	}
}
