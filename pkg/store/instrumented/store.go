// Package instrumented wraps any local store with opencensus
// measurements for operation counts, failures and latency.
package instrumented

import (
	"time"

	"go.opencensus.io/stats"

	"github.com/arborfs/arbor/pkg/metrics"
	"github.com/arborfs/arbor/pkg/store"
)

// M is the metrics module for local store activity
type M struct {
	OpCount  *stats.Int64Measure   `metric:"opCount" description:"number of local store operations" tags:"keyspace,operation"`
	Failures *stats.Int64Measure   `metric:"opFailures" description:"number of failed local store operations" tags:"keyspace,operation"`
	Timing   *stats.Float64Measure `metric:"timing" unit:"milliseconds" description:"local store operation latency" tags:"keyspace,operation"`
}

// New wraps a store with instrumentation registered at the given
// metrics location
func New(location string, w store.Store) store.Store {
	return &instrumentedStore{
		w: w,
		m: metrics.EnsureMetrics(location, &M{}).(*M),
	}
}

type instrumentedStore struct {
	w store.Store
	m *M
}

func (i *instrumentedStore) record(space, operation string, start time.Time, err error) {
	tags := map[string]string{"keyspace": space, "operation": operation}
	metrics.Inc(i.m.OpCount, tags)
	metrics.Since(start, i.m.Timing, tags)
	if err != nil {
		metrics.Inc(i.m.Failures, tags)
	}
}

func (i *instrumentedStore) Open() error  { return i.w.Open() }
func (i *instrumentedStore) Close() error { return i.w.Close() }

func (i *instrumentedStore) Get(ks store.KeySpace, key []byte) (value []byte, err error) {
	defer func(start time.Time) { i.record(ks.Name(), "get", start, err) }(time.Now())
	value, err = i.w.Get(ks, key)
	return
}

func (i *instrumentedStore) Has(ks store.KeySpace, key []byte) (ok bool, err error) {
	defer func(start time.Time) { i.record(ks.Name(), "has", start, err) }(time.Now())
	ok, err = i.w.Has(ks, key)
	return
}

func (i *instrumentedStore) Put(ks store.KeySpace, key, value []byte) (err error) {
	defer func(start time.Time) { i.record(ks.Name(), "put", start, err) }(time.Now())
	err = i.w.Put(ks, key, value)
	return
}

func (i *instrumentedStore) ClearKeySpace(ks store.KeySpace) (err error) {
	defer func(start time.Time) { i.record(ks.Name(), "clear", start, err) }(time.Now())
	err = i.w.ClearKeySpace(ks)
	return
}

func (i *instrumentedStore) CompactKeySpace(ks store.KeySpace) (err error) {
	defer func(start time.Time) { i.record(ks.Name(), "compact", start, err) }(time.Now())
	err = i.w.CompactKeySpace(ks)
	return
}

func (i *instrumentedStore) BeginWrite() store.WriteBatch {
	return &instrumentedBatch{w: i.w.BeginWrite(), owner: i}
}

type instrumentedBatch struct {
	w     store.WriteBatch
	owner *instrumentedStore
}

func (b *instrumentedBatch) Put(ks store.KeySpace, key, value []byte) {
	b.w.Put(ks, key, value)
}

func (b *instrumentedBatch) Flush() (err error) {
	defer func(start time.Time) { b.owner.record("batch", "flush", start, err) }(time.Now())
	err = b.w.Flush()
	return
}
