// Package backend declares the surface of the native object store the
// fetch subsystem drives: a synchronous, batch-capable, thread-safe
// facade over the source-control content store. Implementations enforce
// their own timeouts; callers only see results and errors.
package backend

import (
	"github.com/arborfs/arbor/pkg/model"
)

// FetchMode drives the adapter's cache policy for one call
type FetchMode int

const (
	// LocalOnly answers from data already on disk, never the network
	LocalOnly FetchMode = iota

	// RemoteOnly goes straight to the network
	RemoteOnly

	// AllowRemote answers locally when possible and falls back to the
	// network in the same call
	AllowRemote

	// AllowRemotePrefetch is AllowRemote tuned for throughput over latency
	AllowRemotePrefetch
)

func (m FetchMode) String() string {
	switch m {
	case LocalOnly:
		return "local"
	case RemoteOnly:
		return "remote"
	case AllowRemote:
		return "allow-remote"
	case AllowRemotePrefetch:
		return "allow-remote-prefetch"
	default:
		return "unknown"
	}
}

// ObjectType names the four object kinds the adapter serves
type ObjectType int

const (
	// TypeBlob is file content
	TypeBlob ObjectType = iota

	// TypeTree is directory content
	TypeTree

	// TypeBlobAux is precomputed blob summary data
	TypeBlobAux

	// TypeTreeAux is precomputed tree summary data
	TypeTreeAux
)

func (t ObjectType) String() string {
	switch t {
	case TypeBlob:
		return "blob"
	case TypeTree:
		return "tree"
	case TypeBlobAux:
		return "blobaux"
	case TypeTreeAux:
		return "treeaux"
	default:
		return "unknown"
	}
}

// Request is one element of a batched lookup: the node addressed by its
// revision hash and the cause of the fetch, which the adapter may use to
// shape its own behavior.
type Request struct {
	Node  model.Hash20
	Cause string
}

// GlobFilesResult lists the files matching a set of globs under a root
type GlobFilesResult struct {
	Files []string
}

// Store is the native object store adapter. All methods are safe for
// concurrent use from any worker.
type Store interface {
	// GetTree fetches a single tree
	GetTree(node model.Hash20, mode FetchMode) (*model.Tree, error)

	// GetTreeBatch resolves a batch, invoking cb once per request index
	GetTreeBatch(requests []Request, mode FetchMode, cb func(index int, tree *model.Tree, err error))

	// GetBlob fetches a single blob
	GetBlob(node model.Hash20, mode FetchMode) (*model.Blob, error)

	// GetBlobBatch resolves a batch, invoking cb once per request index
	GetBlobBatch(requests []Request, mode FetchMode, cb func(index int, blob *model.Blob, err error))

	// GetBlobAuxData fetches blob summary data
	GetBlobAuxData(node model.Hash20, localOnly bool) (*model.BlobAuxData, error)

	// GetBlobAuxDataBatch resolves a batch, invoking cb once per request index
	GetBlobAuxDataBatch(requests []Request, localOnly bool, cb func(index int, aux *model.BlobAuxData, err error))

	// GetTreeAuxData fetches tree summary data
	GetTreeAuxData(node model.Hash20, localOnly bool) (*model.TreeAuxData, error)

	// GetTreeAuxDataBatch resolves a batch, invoking cb once per request index
	GetTreeAuxDataBatch(requests []Request, localOnly bool, cb func(index int, aux *model.TreeAuxData, err error))

	// GetManifestNode resolves a commit id to its root tree node
	GetManifestNode(commit model.Hash20) (model.Hash20, bool)

	// GetGlobFiles lists files matching globs under a revision
	GetGlobFiles(root model.RootID, globs []string, prefixes []string) (GlobFilesResult, error)

	// Flush makes freshly written local data visible to later lookups
	Flush() error

	// RepoName names the repository served by this adapter
	RepoName() string

	// DogfoodingHost tells whether this host is part of the dogfooding
	// population, an opaque telemetry bucket
	DogfoodingHost() bool
}

type errorString string

func (e errorString) Error() string {
	return string(e)
}

const (
	// ErrObjectNotFound is the terminal miss for an object the adapter
	// cannot serve in the requested mode
	ErrObjectNotFound errorString = "object not found"

	// ErrTransient marks adapter failures worth one retry
	ErrTransient errorString = "transient backend failure"
)
