package mock

import (
	"github.com/arborfs/arbor/internal/rand"
	"github.com/arborfs/arbor/pkg/model"
)

// GenerateBlob builds a random blob of the given size together with its
// aux data record
func GenerateBlob(size int) (*model.Blob, model.BlobAuxData) {
	blob := model.NewBlob(rand.Bytes(size))
	return blob, blob.Aux()
}

// GenerateHash returns a random revision hash
func GenerateHash() model.Hash20 {
	h, _ := model.NewHash20(rand.Bytes(model.Hash20Size))
	return h
}

// GenerateTree builds a random tree with the given number of file
// entries, each pointing at a random embedded object id
func GenerateTree(entries int, caseSensitive bool) *model.Tree {
	list := make([]model.TreeEntry, 0, entries)
	for i := 0; i < entries; i++ {
		rev := GenerateHash()
		name := rand.LetterString(4 + rand.Intn(8))
		size := uint64(rand.Intn(1 << 16))
		list = append(list, model.TreeEntry{
			Name: name,
			ID:   model.ProxyHash{Rev: rev, Path: name}.Embed(),
			Type: model.EntryRegularFile,
			Size: &size,
		})
	}
	return model.NewTree(list, caseSensitive)
}

// PopulateWorkingCopy fills the store with a commit whose root tree
// lists the given number of blobs, all fetchable locally. It returns the
// commit and root tree nodes.
func (s *Store) PopulateWorkingCopy(files int) (commit, root model.Hash20) {
	commit = GenerateHash()
	root = GenerateHash()
	s.SetManifest(commit, root)

	entries := make([]model.TreeEntry, 0, files)
	for i := 0; i < files; i++ {
		blob, aux := GenerateBlob(64 + rand.Intn(512))
		node := GenerateHash()
		s.AddLocalBlob(node, blob)
		s.AddLocalBlobAux(node, &aux)
		name := rand.LetterString(5 + rand.Intn(6))
		size := blob.Size()
		entries = append(entries, model.TreeEntry{
			Name: name,
			ID:   model.ProxyHash{Rev: node, Path: name}.Embed(),
			Type: model.EntryRegularFile,
			Size: &size,
		})
	}
	s.AddLocalTree(root, model.NewTree(entries, true))
	return commit, root
}
