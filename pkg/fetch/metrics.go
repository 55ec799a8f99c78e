package fetch

import (
	"go.opencensus.io/stats"

	"github.com/arborfs/arbor/pkg/metrics"
)

// M is the metrics module of the fetch subsystem
type M struct {
	APITiming    *stats.Float64Measure `metric:"apiTiming" unit:"milliseconds" description:"latency of public fetch operations" tags:"operation"`
	ImportTiming *stats.Float64Measure `metric:"importTiming" unit:"milliseconds" description:"latency of queue batch processing" tags:"kind"`

	FetchSuccess *stats.Int64Measure `metric:"fetchSuccess" description:"successful object fetches" tags:"kind,stage"`
	FetchFailure *stats.Int64Measure `metric:"fetchFailure" description:"terminally failed object fetches" tags:"kind"`
	FetchMiss    *stats.Int64Measure `metric:"fetchMiss" description:"fetch miss telemetry events" tags:"kind,retry"`

	QueuedRequests  *stats.Int64Measure `metric:"queuedRequests" description:"requests put on the import queue" tags:"kind"`
	DroppedRequests *stats.Int64Measure `metric:"droppedRequests" description:"requests dropped at shutdown"`
}

func (f *Fetcher) ensureMetrics() {
	if !f.metricsEnabled {
		return
	}
	f.m = metrics.EnsureMetrics("fetch", &M{}).(*M)
}

func (f *Fetcher) recordSuccess(kind Kind, stage Source) {
	if f.m == nil {
		return
	}
	metrics.Inc(f.m.FetchSuccess, map[string]string{"kind": kind.String(), "stage": stage.String()})
}

// recordRetrySuccess tags fetches that only succeeded in the retry
// stage, keeping them apart from single-batch successes which also
// carry an unknown source
func (f *Fetcher) recordRetrySuccess(kind Kind) {
	if f.m == nil {
		return
	}
	metrics.Inc(f.m.FetchSuccess, map[string]string{"kind": kind.String(), "stage": "retry"})
}

func (f *Fetcher) recordFailure(kind Kind) {
	if f.m == nil {
		return
	}
	metrics.Inc(f.m.FetchFailure, map[string]string{"kind": kind.String()})
}
