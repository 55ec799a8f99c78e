package fetch

// Kind names the object kind of an import request
type Kind int

const (
	// KindBlob imports file content
	KindBlob Kind = iota

	// KindTree imports directory content
	KindTree

	// KindBlobAux imports blob summary data
	KindBlobAux

	// KindTreeAux imports tree summary data
	KindTreeAux

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindBlobAux:
		return "blobaux"
	case KindTreeAux:
		return "treeaux"
	default:
		return "unknown"
	}
}

// Cause tags who asked for an object, propagated to telemetry and the
// native store
type Cause int

const (
	// CauseUnknown is the default cause
	CauseUnknown Cause = iota

	// CauseFS marks requests issued by the filesystem channel
	CauseFS

	// CauseRPC marks requests issued over the service endpoint
	CauseRPC

	// CausePrefetch marks requests issued by readahead
	CausePrefetch
)

func (c Cause) String() string {
	switch c {
	case CauseFS:
		return "fs"
	case CauseRPC:
		return "rpc"
	case CausePrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// FetchType distinguishes demand fetches from readahead
type FetchType int

const (
	// TypeFetch is a demand fetch
	TypeFetch FetchType = iota

	// TypePrefetch is readahead, optimized for throughput over latency
	TypePrefetch
)

func (t FetchType) String() string {
	if t == TypePrefetch {
		return "prefetch"
	}
	return "fetch"
}

// Origin tells callers where a resolved object came from
type Origin int

const (
	// OriginNotFetched means no fetch happened
	OriginNotFetched Origin = iota

	// OriginFromDiskCache means the object was served by the synchronous
	// local fast path
	OriginFromDiskCache

	// OriginFromNetworkFetch means the object went through the queue
	OriginFromNetworkFetch
)

func (o Origin) String() string {
	switch o {
	case OriginFromDiskCache:
		return "disk"
	case OriginFromNetworkFetch:
		return "network"
	default:
		return "none"
	}
}

// Source records which pipeline stage produced an object
type Source int

const (
	// SourceNone means the request never resolved to data
	SourceNone Source = iota

	// SourceLocal is the local-only batch stage
	SourceLocal

	// SourceRemote is the remote-only batch stage
	SourceRemote

	// SourceUnknown is used when a single allow-remote batch or a retry
	// produced the data, where the stage cannot be told apart
	SourceUnknown
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	case SourceUnknown:
		return "unknown"
	default:
		return "none"
	}
}
