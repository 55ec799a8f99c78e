package fetch

import (
	"regexp"
	"time"

	"go.uber.org/zap"
)

// Option configures the fetcher at construction
type Option func(*Fetcher)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.l = l
		}
	}
}

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(f *Fetcher) {
		f.cfg = cfg
	}
}

// WithWorkers sets the number of fetcher workers
func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		f.cfg.NumFetchWorkers = n
	}
}

// WithInlineRetries runs retries on the calling worker, making unit
// tests deterministic
func WithInlineRetries() Option {
	return func(f *Fetcher) {
		f.cfg.InlineRetries = true
	}
}

// WithFetchInSingleBatch switches to one allow-remote batch per dequeue
func WithFetchInSingleBatch(on bool) Option {
	return func(f *Fetcher) {
		f.cfg.FetchInSingleBatch = on
	}
}

// WithBijectiveBlobIDs strengthens object id comparison
func WithBijectiveBlobIDs(on bool) Option {
	return func(f *Fetcher) {
		f.cfg.BijectiveBlobIDs = on
	}
}

// WithCachingPolicy sets both legacy caching surfaces consistently
func WithCachingPolicy(policy CachingPolicy) Option {
	return func(f *Fetcher) {
		f.cfg.LocalStoreCachingPolicy = policy
		f.cfg.EnableBlobLocalStoreCaching = policy&CacheBlobs != 0
	}
}

// WithAuditPathFilter promotes matching fetch audit records to info
func WithAuditPathFilter(re *regexp.Regexp) Option {
	return func(f *Fetcher) {
		f.cfg.AuditPathFilter = re
	}
}

// WithFlushInterval paces the periodic native store flush, zero
// disables it
func WithFlushInterval(d time.Duration) Option {
	return func(f *Fetcher) {
		f.cfg.FlushInterval = d
	}
}

// WithMetricsEnabled turns measurement recording on
func WithMetricsEnabled(on bool) Option {
	return func(f *Fetcher) {
		f.metricsEnabled = on
	}
}

// RequestOption tunes one public API call
type RequestOption func(*requestOptions)

type requestOptions struct {
	priority Priority
	cause    Cause
	pid      int
}

func defaultRequestOptions() requestOptions {
	return requestOptions{priority: NormalPriority(), cause: CauseUnknown}
}

func applyRequestOptions(opts []RequestOption) requestOptions {
	o := defaultRequestOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// WithPriority sets the import priority of the request
func WithPriority(p Priority) RequestOption {
	return func(o *requestOptions) {
		o.priority = p
	}
}

// WithCause tags the request with its cause
func WithCause(c Cause) RequestOption {
	return func(o *requestOptions) {
		o.cause = c
	}
}

// WithClientPid attributes the request to a client process
func WithClientPid(pid int) RequestOption {
	return func(o *requestOptions) {
		o.pid = pid
	}
}
