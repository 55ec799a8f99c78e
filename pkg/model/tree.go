package model

import (
	"sort"
	"strings"
)

// EntryType describes a tree child
type EntryType uint8

const (
	// EntryRegularFile is a plain file
	EntryRegularFile EntryType = iota

	// EntryExecutableFile is a file with the executable bit
	EntryExecutableFile

	// EntrySymlink is a symbolic link
	EntrySymlink

	// EntryDirectory is a sub tree
	EntryDirectory
)

func (t EntryType) String() string {
	switch t {
	case EntryRegularFile:
		return "file"
	case EntryExecutableFile:
		return "executable"
	case EntrySymlink:
		return "symlink"
	case EntryDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// TreeEntry is one child of a tree: its name, object id and type, plus
// optional size and content digests when the store knows them.
type TreeEntry struct {
	Name   string
	ID     ObjectID
	Type   EntryType
	Size   *uint64
	SHA1   *Hash20
	Blake3 *Hash32
}

// Tree is the immutable, ordered list of children of one directory
// version. Name lookups honor the container's case sensitivity.
type Tree struct {
	entries       []TreeEntry
	caseSensitive bool
	index         map[string]int
}

// NewTree builds a tree from entries, ordering them by name
func NewTree(entries []TreeEntry, caseSensitive bool) *Tree {
	ordered := make([]TreeEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	index := make(map[string]int, len(ordered))
	for i, e := range ordered {
		index[foldName(e.Name, caseSensitive)] = i
	}
	return &Tree{entries: ordered, caseSensitive: caseSensitive, index: index}
}

func foldName(name string, caseSensitive bool) string {
	if caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// Len is the number of children
func (t *Tree) Len() int {
	return len(t.entries)
}

// Entries returns the children in name order. Callers must not mutate
// the returned slice.
func (t *Tree) Entries() []TreeEntry {
	return t.entries
}

// Find looks a child up by name, case folded when the tree is case
// insensitive
func (t *Tree) Find(name string) (TreeEntry, bool) {
	i, ok := t.index[foldName(name, t.caseSensitive)]
	if !ok {
		return TreeEntry{}, false
	}
	return t.entries[i], true
}

// CaseSensitive reports the container's lookup mode
func (t *Tree) CaseSensitive() bool {
	return t.caseSensitive
}
