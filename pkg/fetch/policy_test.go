package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingPolicy_Bits(t *testing.T) {
	p := CacheTrees | CacheBlobAux

	assert.True(t, p.ShouldCache(KindTree))
	assert.True(t, p.ShouldCache(KindBlobAux))
	assert.False(t, p.ShouldCache(KindBlob))
	assert.False(t, p.ShouldCache(KindTreeAux))

	assert.False(t, CacheNothing.ShouldCache(KindBlob))
	assert.True(t, CacheAnything.ShouldCache(KindTreeAux))
}

func TestCachingPolicy_String(t *testing.T) {
	assert.Equal(t, "nothing", CacheNothing.String())
	assert.Equal(t, "trees,blobs,blobaux,treeaux", CacheAnything.String())
	assert.Equal(t, "blobs", CacheBlobs.String())
}

func TestResolveCachingPolicy(t *testing.T) {
	resolved, err := ResolveCachingPolicy(true, CacheAnything)
	require.NoError(t, err)
	assert.Equal(t, CacheAnything, resolved)

	resolved, err = ResolveCachingPolicy(false, CacheTrees)
	require.NoError(t, err)
	assert.Equal(t, CacheTrees, resolved)

	_, err = ResolveCachingPolicy(false, CacheBlobs)
	require.ErrorIs(t, err, ErrCachingPolicyConflict)

	_, err = ResolveCachingPolicy(true, CacheTrees)
	require.ErrorIs(t, err, ErrCachingPolicyConflict)
}
