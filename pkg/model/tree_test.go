package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries(t *testing.T) []TreeEntry {
	t.Helper()
	rev, err := Hash20FromHex(testRevHex)
	require.NoError(t, err)
	size := uint64(42)
	return []TreeEntry{
		{Name: "zebra.txt", ID: ProxyHash{Rev: rev, Path: "zebra.txt"}.Embed(), Type: EntryRegularFile, Size: &size},
		{Name: "Makefile", ID: ProxyHash{Rev: rev, Path: "Makefile"}.Embed(), Type: EntryRegularFile},
		{Name: "src", ID: ProxyHash{Rev: rev, Path: "src"}.Embed(), Type: EntryDirectory},
	}
}

func TestTree_OrdersEntriesByName(t *testing.T) {
	tree := NewTree(testEntries(t), true)
	require.Equal(t, 3, tree.Len())

	names := make([]string, 0, tree.Len())
	for _, e := range tree.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Makefile", "src", "zebra.txt"}, names)
}

func TestTree_CaseSensitivity(t *testing.T) {
	sensitive := NewTree(testEntries(t), true)
	_, ok := sensitive.Find("makefile")
	assert.False(t, ok)
	_, ok = sensitive.Find("Makefile")
	assert.True(t, ok)

	insensitive := NewTree(testEntries(t), false)
	entry, ok := insensitive.Find("MAKEFILE")
	require.True(t, ok)
	assert.Equal(t, "Makefile", entry.Name)
}

func TestBlob_AuxDigests(t *testing.T) {
	blob := NewBlob([]byte("hello\n"))
	aux := blob.Aux()

	assert.EqualValues(t, 6, aux.Size)
	assert.Equal(t, blob.SHA1(), aux.SHA1)
	assert.Equal(t, blob.Blake3(), aux.Blake3)

	decoded, err := UnmarshalBlobAuxData(aux.Marshal())
	require.NoError(t, err)
	assert.Equal(t, aux, decoded)
}

func TestTreeAuxData_Record(t *testing.T) {
	var digest Hash32
	copy(digest[:], []byte("0123456789abcdef0123456789abcdef"))
	aux := TreeAuxData{DigestHash: digest, DigestSize: 1 << 20}

	decoded, err := UnmarshalTreeAuxData(aux.Marshal())
	require.NoError(t, err)
	assert.Equal(t, aux, decoded)

	_, err = UnmarshalTreeAuxData([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidAuxData)
}
