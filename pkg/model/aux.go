package model

import (
	"encoding/binary"
	"fmt"
)

const (
	blobAuxRecordSize = Hash20Size + Hash32Size + 8
	treeAuxRecordSize = Hash32Size + 8
)

// BlobAuxData is the precomputed summary of a blob: content digests and
// size, fetched from the aux side channel instead of the blob itself.
type BlobAuxData struct {
	SHA1   Hash20
	Blake3 Hash32
	Size   uint64
}

// TreeAuxData is the precomputed summary of a tree: an aggregate digest
// over its children and the aggregate size.
type TreeAuxData struct {
	DigestHash Hash32
	DigestSize uint64
}

// Marshal serializes the record as sha1, blake3, then big endian size
func (a BlobAuxData) Marshal() []byte {
	buf := make([]byte, blobAuxRecordSize)
	copy(buf, a.SHA1[:])
	copy(buf[Hash20Size:], a.Blake3[:])
	binary.BigEndian.PutUint64(buf[Hash20Size+Hash32Size:], a.Size)
	return buf
}

// UnmarshalBlobAuxData decodes a serialized blob aux record
func UnmarshalBlobAuxData(data []byte) (BlobAuxData, error) {
	if len(data) != blobAuxRecordSize {
		return BlobAuxData{}, fmt.Errorf("blob aux record has %d bytes, want %d: %w",
			len(data), blobAuxRecordSize, ErrInvalidAuxData)
	}
	var a BlobAuxData
	copy(a.SHA1[:], data[:Hash20Size])
	copy(a.Blake3[:], data[Hash20Size:Hash20Size+Hash32Size])
	a.Size = binary.BigEndian.Uint64(data[Hash20Size+Hash32Size:])
	return a, nil
}

// Marshal serializes the record as digest then big endian size
func (a TreeAuxData) Marshal() []byte {
	buf := make([]byte, treeAuxRecordSize)
	copy(buf, a.DigestHash[:])
	binary.BigEndian.PutUint64(buf[Hash32Size:], a.DigestSize)
	return buf
}

// UnmarshalTreeAuxData decodes a serialized tree aux record
func UnmarshalTreeAuxData(data []byte) (TreeAuxData, error) {
	if len(data) != treeAuxRecordSize {
		return TreeAuxData{}, fmt.Errorf("tree aux record has %d bytes, want %d: %w",
			len(data), treeAuxRecordSize, ErrInvalidAuxData)
	}
	var a TreeAuxData
	copy(a.DigestHash[:], data[:Hash32Size])
	a.DigestSize = binary.BigEndian.Uint64(data[Hash32Size:])
	return a, nil
}
