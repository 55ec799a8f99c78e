package fetch

import "strings"

// CachingPolicy is the bitset deciding which successfully fetched
// object kinds are written back into the local store. It is pure data:
// the layer above the fetch core consults it when persisting. The core
// itself only ever persists the commit to root-tree mapping.
type CachingPolicy uint8

const (
	// CacheNothing writes nothing back
	CacheNothing CachingPolicy = 0

	// CacheTrees writes fetched trees back
	CacheTrees CachingPolicy = 1 << 0

	// CacheBlobs writes fetched blobs back
	CacheBlobs CachingPolicy = 1 << 1

	// CacheBlobAux writes fetched blob aux records back
	CacheBlobAux CachingPolicy = 1 << 2

	// CacheTreeAux writes fetched tree aux records back
	CacheTreeAux CachingPolicy = 1 << 3

	// CacheAnything writes every kind back
	CacheAnything = CacheTrees | CacheBlobs | CacheBlobAux | CacheTreeAux
)

// ShouldCache tells whether objects of the given kind are persisted
func (p CachingPolicy) ShouldCache(kind Kind) bool {
	switch kind {
	case KindTree:
		return p&CacheTrees != 0
	case KindBlob:
		return p&CacheBlobs != 0
	case KindBlobAux:
		return p&CacheBlobAux != 0
	case KindTreeAux:
		return p&CacheTreeAux != 0
	default:
		return false
	}
}

func (p CachingPolicy) String() string {
	if p == CacheNothing {
		return "nothing"
	}
	var parts []string
	if p&CacheTrees != 0 {
		parts = append(parts, "trees")
	}
	if p&CacheBlobs != 0 {
		parts = append(parts, "blobs")
	}
	if p&CacheBlobAux != 0 {
		parts = append(parts, "blobaux")
	}
	if p&CacheTreeAux != 0 {
		parts = append(parts, "treeaux")
	}
	return strings.Join(parts, ",")
}

// ResolveCachingPolicy collapses the two legacy configuration surfaces,
// the blob-caching switch and the caching policy, into one bitset. The
// two must agree on blobs; disagreement is a configuration error.
func ResolveCachingPolicy(enableBlobCaching bool, policy CachingPolicy) (CachingPolicy, error) {
	if enableBlobCaching != (policy&CacheBlobs != 0) {
		return CacheNothing, ErrCachingPolicyConflict
	}
	return policy, nil
}
