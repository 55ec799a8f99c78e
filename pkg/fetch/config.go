package fetch

import (
	"regexp"
	"time"
)

// Config gathers the tunables of the fetch subsystem. Zero (or negative)
// numeric tunables are replaced by the defaults below at construction,
// except FlushInterval, where zero disables the flush task. The boolean
// fields, LocalStoreCachingPolicy and AuditPathFilter are used as given.
type Config struct {
	// NumFetchWorkers is the number of goroutines draining the queue
	NumFetchWorkers int

	// Batch size caps per object kind
	BlobBatchSize    int
	TreeBatchSize    int
	BlobAuxBatchSize int
	TreeAuxBatchSize int

	// RetryWorkers bounds the retry executor. InlineRetries runs retries
	// on the calling worker instead, for deterministic unit tests.
	RetryWorkers  int
	InlineRetries bool

	// RetryBackoff paces attempts inside one retry; RetryMaxAttempts
	// bounds them
	RetryBackoff     time.Duration
	RetryMaxAttempts uint64

	// FetchInSingleBatch replaces the local-then-remote cascade with one
	// allow-remote batch. The fetched-source tag then degrades to
	// unknown.
	FetchInSingleBatch bool

	// BijectiveBlobIDs asserts that distinct object ids imply distinct
	// content, strengthening CompareObjectsByID
	BijectiveBlobIDs bool

	// EnableBlobLocalStoreCaching is the legacy switch that must agree
	// with LocalStoreCachingPolicy on blobs
	EnableBlobLocalStoreCaching bool

	// LocalStoreCachingPolicy selects the kinds written back to the
	// local store by the layer above
	LocalStoreCachingPolicy CachingPolicy

	// MissingProxyHashLogInterval throttles the missing proxy hash log
	MissingProxyHashLogInterval time.Duration

	// AuditPathFilter promotes matching fetch audit records from debug
	// to info
	AuditPathFilter *regexp.Regexp

	// FlushInterval paces the periodic native store flush. Zero disables
	// the management task.
	FlushInterval time.Duration

	// TraceBusCapacity bounds the trace event buffer
	TraceBusCapacity int

	// ActivityBufferCapacity bounds the outstanding-import table
	ActivityBufferCapacity int

	// RootTreeMemoSize bounds the in-process commit to root-tree memo
	RootTreeMemoSize int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		NumFetchWorkers:             4,
		BlobBatchSize:               32,
		TreeBatchSize:               16,
		BlobAuxBatchSize:            256,
		TreeAuxBatchSize:            256,
		RetryWorkers:                2,
		RetryBackoff:                10 * time.Millisecond,
		RetryMaxAttempts:            3,
		EnableBlobLocalStoreCaching: true,
		LocalStoreCachingPolicy:     CacheAnything,
		MissingProxyHashLogInterval: time.Minute,
		FlushInterval:               10 * time.Minute,
		TraceBusCapacity:            100000,
		ActivityBufferCapacity:      256,
		RootTreeMemoSize:            1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NumFetchWorkers < 1 {
		c.NumFetchWorkers = d.NumFetchWorkers
	}
	if c.BlobBatchSize < 1 {
		c.BlobBatchSize = d.BlobBatchSize
	}
	if c.TreeBatchSize < 1 {
		c.TreeBatchSize = d.TreeBatchSize
	}
	if c.BlobAuxBatchSize < 1 {
		c.BlobAuxBatchSize = d.BlobAuxBatchSize
	}
	if c.TreeAuxBatchSize < 1 {
		c.TreeAuxBatchSize = d.TreeAuxBatchSize
	}
	if c.RetryWorkers < 1 {
		c.RetryWorkers = d.RetryWorkers
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = d.RetryMaxAttempts
	}
	if c.MissingProxyHashLogInterval <= 0 {
		c.MissingProxyHashLogInterval = d.MissingProxyHashLogInterval
	}
	if c.TraceBusCapacity < 1 {
		c.TraceBusCapacity = d.TraceBusCapacity
	}
	if c.ActivityBufferCapacity < 1 {
		c.ActivityBufferCapacity = d.ActivityBufferCapacity
	}
	if c.RootTreeMemoSize < 1 {
		c.RootTreeMemoSize = d.RootTreeMemoSize
	}
	return c
}
