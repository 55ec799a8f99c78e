// Package fetch implements the object-fetch subsystem bridging the
// virtual filesystem to the source-control object store: a priority
// queue of import requests, a pool of fetcher workers driving batched
// local and remote lookups, an aux-data side channel, and the caching
// policy for the local key/value store.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/pkg/backend"
	"github.com/arborfs/arbor/pkg/metrics"
	"github.com/arborfs/arbor/pkg/model"
	"github.com/arborfs/arbor/pkg/store"
)

// BlobResult is a resolved blob and where it came from
type BlobResult struct {
	Blob   *model.Blob
	Origin Origin
}

// TreeResult is a resolved tree and where it came from
type TreeResult struct {
	Tree   *model.Tree
	Origin Origin
}

// BlobAuxResult is a resolved blob aux record. Aux is nil when the
// datum does not exist; callers then compute digests from the blob.
type BlobAuxResult struct {
	Aux    *model.BlobAuxData
	Origin Origin
}

// TreeAuxResult is a resolved tree aux record, nil when missing
type TreeAuxResult struct {
	Aux    *model.TreeAuxData
	Origin Origin
}

// RootTreeResult resolves a revision to its root tree
type RootTreeResult struct {
	TreeID model.ObjectID
	Tree   *model.Tree
	Origin Origin
}

// Fetcher is the object-fetch service. Construct with New, call Start,
// and Stop exactly once when done; Stop drains the queue and fails
// every pending request.
type Fetcher struct {
	native backend.Store
	local  store.Store
	l      *zap.Logger
	cfg    Config

	policy CachingPolicy
	queue  *RequestQueue
	proxy  *proxyHashService
	retry  *retryExecutor

	bus         *TraceBus
	activity    *ActivityBuffer
	activitySub *Subscription

	rootTreeMemo *lru.Cache

	metricsEnabled bool
	m              *M

	wg       sync.WaitGroup
	mgmtDone chan struct{}
	started  bool
	stopOnce sync.Once
}

// New builds a fetcher over the native store and the local KV store
func New(native backend.Store, local store.Store, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		native:   native,
		local:    local,
		l:        zap.NewNop(),
		cfg:      DefaultConfig(),
		mgmtDone: make(chan struct{}),
	}
	for _, apply := range opts {
		apply(f)
	}
	f.cfg = f.cfg.withDefaults()

	policy, err := ResolveCachingPolicy(f.cfg.EnableBlobLocalStoreCaching, f.cfg.LocalStoreCachingPolicy)
	if err != nil {
		return nil, err
	}
	f.policy = policy

	f.queue = NewRequestQueue(
		f.cfg.BlobBatchSize,
		f.cfg.TreeBatchSize,
		f.cfg.BlobAuxBatchSize,
		f.cfg.TreeAuxBatchSize,
	)
	f.proxy = newProxyHashService(local, f.l, f.cfg.MissingProxyHashLogInterval)
	f.retry = newRetryExecutor(f.cfg.RetryWorkers, f.cfg.InlineRetries)

	f.bus = NewTraceBus(f.cfg.TraceBusCapacity)
	f.activity = NewActivityBuffer(f.cfg.ActivityBufferCapacity)
	f.activitySub = f.bus.Subscribe(f.activity.ProcessEvent)

	f.rootTreeMemo, err = lru.New(f.cfg.RootTreeMemoSize)
	if err != nil {
		return nil, err
	}

	f.ensureMetrics()
	return f, nil
}

// Start spawns the fetcher workers and the periodic management task
func (f *Fetcher) Start() {
	if f.started {
		return
	}
	f.started = true
	for i := 0; i < f.cfg.NumFetchWorkers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.processRequest()
		}()
	}
	if f.cfg.FlushInterval > 0 {
		f.wg.Add(1)
		go f.manageNativeStore()
	}
	f.l.Info("object fetcher started",
		zap.Int("workers", f.cfg.NumFetchWorkers),
		zap.String("repo", f.native.RepoName()),
		zap.String("cachingPolicy", f.policy.String()),
	)
}

// manageNativeStore flushes the native store periodically so data
// written by other processes becomes visible
func (f *Fetcher) manageNativeStore() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := f.native.Flush(); err != nil {
				f.l.Warn("periodic native store flush failed", zap.Error(err))
			}
		case <-f.mgmtDone:
			return
		}
	}
}

// Stop tears the fetcher down: the queue refuses new requests, every
// pending request resolves with ErrDroppedOnShutdown, workers and the
// retry pool join, and the trace bus closes.
func (f *Fetcher) Stop() {
	f.stopOnce.Do(func() {
		f.queue.Stop()

		dropped := f.queue.CombineAndClearRequestQueues()
		for _, r := range dropped {
			f.failDropped(r)
		}
		if f.m != nil && len(dropped) > 0 {
			metrics.Int64(f.m.DroppedRequests, int64(len(dropped)))
		}

		close(f.mgmtDone)
		f.wg.Wait()
		f.retry.stop()

		f.activitySub.Close()
		f.bus.Close()
		f.l.Info("object fetcher stopped", zap.Int("droppedRequests", len(dropped)))
	})
}

// failDropped resolves the sinks of a request that never reached a
// worker. The awaiting callers publish the finish trace events.
func (f *Fetcher) failDropped(r *Request) {
	res := fetchResult{source: SourceNone}
	for _, sink := range r.sinks {
		sink.complete(res, ErrDroppedOnShutdown)
	}
}

// TraceBus exposes the event bus for additional observers
func (f *Fetcher) TraceBus() *TraceBus {
	return f.bus
}

// Activity exposes the outstanding-import table
func (f *Fetcher) Activity() *ActivityBuffer {
	return f.activity
}

// CachingPolicy returns the resolved local store caching policy
func (f *Fetcher) CachingPolicy() CachingPolicy {
	return f.policy
}

func (f *Fetcher) publishTrace(ev TraceEvent) {
	f.bus.Publish(ev)
}

func (f *Fetcher) recordAPITiming(operation string, start time.Time) {
	if f.m == nil {
		return
	}
	metrics.Since(start, f.m.APITiming, map[string]string{"operation": operation})
}

// logBackingStoreFetch emits the fetch audit record. Records whose path
// matches the configured filter are promoted to info.
func (f *Fetcher) logBackingStoreFetch(proxy model.ProxyHash, objectType backend.ObjectType, cause Cause) {
	fields := []zap.Field{
		zap.String("path", proxy.Path),
		zap.String("type", objectType.String()),
		zap.String("cause", cause.String()),
	}
	if f.cfg.AuditPathFilter != nil && f.cfg.AuditPathFilter.MatchString(proxy.Path) {
		f.l.Info("backing-store fetch", fields...)
		return
	}
	f.l.Debug("backing-store fetch", fields...)
}

// logFetchMiss publishes the structured telemetry event for a terminal
// fetch failure
func (f *Fetcher) logFetchMiss(objectType backend.ObjectType, r *Request, reason error, isRetry bool) {
	f.l.Warn("fetch miss",
		zap.String("repo", f.native.RepoName()),
		zap.String("kind", objectType.String()),
		zap.String("path", r.Proxy.Path),
		zap.String("node", r.Proxy.Rev.String()),
		zap.NamedError("reason", reason),
		zap.Bool("isRetry", isRetry),
		zap.Bool("dogfoodingHost", f.native.DogfoodingHost()),
	)
	if f.m != nil {
		metrics.Inc(f.m.FetchMiss, map[string]string{
			"kind":  objectType.String(),
			"retry": fmt.Sprintf("%t", isRetry),
		})
	}
}

/* ====== public fetch operations ====== */

// GetBlob fetches file content by object id. The synchronous local fast
// path answers with OriginFromDiskCache; anything else goes through the
// import queue.
func (f *Fetcher) GetBlob(ctx context.Context, id model.ObjectID, opts ...RequestOption) (BlobResult, error) {
	defer f.recordAPITiming("getBlob", time.Now())
	o := applyRequestOptions(opts)

	proxy, err := f.proxy.Load(id, "getBlob")
	if err != nil {
		return BlobResult{Origin: OriginNotFetched}, err
	}
	f.logBackingStoreFetch(proxy, backend.TypeBlob, o.cause)

	if blob, localErr := f.native.GetBlob(proxy.Rev, backend.LocalOnly); localErr == nil {
		f.recordSuccess(KindBlob, SourceLocal)
		return BlobResult{Blob: blob, Origin: OriginFromDiskCache}, nil
	}

	req := newRequest(KindBlob, id, proxy, o.priority, o.cause, o.pid, TypeFetch)
	res, err := f.await(ctx, req, f.queue.EnqueueBlob(req))
	if err != nil {
		return BlobResult{Origin: OriginNotFetched}, err
	}
	return BlobResult{Blob: res.blob, Origin: OriginFromNetworkFetch}, nil
}

// GetTree fetches directory content by object id
func (f *Fetcher) GetTree(ctx context.Context, id model.ObjectID, opts ...RequestOption) (TreeResult, error) {
	defer f.recordAPITiming("getTree", time.Now())
	o := applyRequestOptions(opts)

	proxy, err := f.proxy.Load(id, "getTree")
	if err != nil {
		return TreeResult{Origin: OriginNotFetched}, err
	}
	f.logBackingStoreFetch(proxy, backend.TypeTree, o.cause)

	if tree, localErr := f.native.GetTree(proxy.Rev, backend.LocalOnly); localErr == nil {
		f.recordSuccess(KindTree, SourceLocal)
		return TreeResult{Tree: tree, Origin: OriginFromDiskCache}, nil
	}

	req := newRequest(KindTree, id, proxy, o.priority, o.cause, o.pid, TypeFetch)
	res, err := f.await(ctx, req, f.queue.EnqueueTree(req))
	if err != nil {
		return TreeResult{Origin: OriginNotFetched}, err
	}
	return TreeResult{Tree: res.tree, Origin: OriginFromNetworkFetch}, nil
}

// GetBlobAux fetches the precomputed summary of a blob. A nil aux in a
// successful result means the datum does not exist.
func (f *Fetcher) GetBlobAux(ctx context.Context, id model.ObjectID, opts ...RequestOption) (BlobAuxResult, error) {
	defer f.recordAPITiming("getBlobAux", time.Now())
	o := applyRequestOptions(opts)

	proxy, err := f.proxy.Load(id, "getBlobAux")
	if err != nil {
		return BlobAuxResult{Origin: OriginNotFetched}, err
	}
	f.logBackingStoreFetch(proxy, backend.TypeBlobAux, o.cause)

	if aux, localErr := f.native.GetBlobAuxData(proxy.Rev, true); localErr == nil {
		f.recordSuccess(KindBlobAux, SourceLocal)
		return BlobAuxResult{Aux: aux, Origin: OriginFromDiskCache}, nil
	}

	req := newRequest(KindBlobAux, id, proxy, o.priority, o.cause, o.pid, TypeFetch)
	res, err := f.await(ctx, req, f.queue.EnqueueBlobAux(req))
	if err != nil {
		return BlobAuxResult{Origin: OriginNotFetched}, err
	}
	return BlobAuxResult{Aux: res.blobAux, Origin: OriginFromNetworkFetch}, nil
}

// GetTreeAux fetches the precomputed summary of a tree, nil when the
// datum does not exist
func (f *Fetcher) GetTreeAux(ctx context.Context, id model.ObjectID, opts ...RequestOption) (TreeAuxResult, error) {
	defer f.recordAPITiming("getTreeAux", time.Now())
	o := applyRequestOptions(opts)

	proxy, err := f.proxy.Load(id, "getTreeAux")
	if err != nil {
		return TreeAuxResult{Origin: OriginNotFetched}, err
	}
	f.logBackingStoreFetch(proxy, backend.TypeTreeAux, o.cause)

	if aux, localErr := f.native.GetTreeAuxData(proxy.Rev, true); localErr == nil {
		f.recordSuccess(KindTreeAux, SourceLocal)
		return TreeAuxResult{Aux: aux, Origin: OriginFromDiskCache}, nil
	}

	req := newRequest(KindTreeAux, id, proxy, o.priority, o.cause, o.pid, TypeFetch)
	res, err := f.await(ctx, req, f.queue.EnqueueTreeAux(req))
	if err != nil {
		return TreeAuxResult{Origin: OriginNotFetched}, err
	}
	return TreeAuxResult{Aux: res.treeAux, Origin: OriginFromNetworkFetch}, nil
}

// await publishes the queue event, waits for the sink and publishes the
// finish event with the source the pipeline recorded
func (f *Fetcher) await(ctx context.Context, req *Request, sink *promise) (fetchResult, error) {
	f.publishTrace(queueEvent(req))
	if f.m != nil {
		metrics.Inc(f.m.QueuedRequests, map[string]string{"kind": req.Kind.String()})
	}
	res, err := sink.wait(ctx)
	if !isContextError(err) {
		f.publishTrace(finishEvent(req, res.source))
	}
	return res, err
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// GetRootTree resolves a revision to its root tree. The commit to
// root-tree mapping is memoized in process and persisted in the local
// store; this mapping is the only thing the core persists itself.
func (f *Fetcher) GetRootTree(ctx context.Context, root model.RootID, opts ...RequestOption) (RootTreeResult, error) {
	defer f.recordAPITiming("getRootTree", time.Now())

	treeID, err := f.lookupRootTreeID(root)
	if err != nil {
		return RootTreeResult{Origin: OriginNotFetched}, err
	}

	res, err := f.GetTree(ctx, treeID, opts...)
	if err != nil {
		return RootTreeResult{TreeID: treeID, Origin: OriginNotFetched}, err
	}
	return RootTreeResult{TreeID: treeID, Tree: res.Tree, Origin: res.Origin}, nil
}

func (f *Fetcher) lookupRootTreeID(root model.RootID) (model.ObjectID, error) {
	if cached, ok := f.rootTreeMemo.Get(root.String()); ok {
		return cached.(model.ObjectID), nil
	}

	if raw, err := f.local.Get(store.HgCommitToTree, root.BinaryKey()); err == nil {
		treeID := model.NewObjectID(raw)
		f.rootTreeMemo.Add(root.String(), treeID)
		return treeID, nil
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return model.ObjectID{}, err
	}

	node, ok := f.native.GetManifestNode(root.Hash())
	if !ok {
		return model.ObjectID{}, fmt.Errorf("root %v: %w", root, ErrCommitNotFound)
	}
	treeID := model.ProxyHash{Rev: node}.EmbedHashOnly()

	batch := f.local.BeginWrite()
	batch.Put(store.HgCommitToTree, root.BinaryKey(), treeID.Bytes())
	if err := batch.Flush(); err != nil {
		return model.ObjectID{}, fmt.Errorf("persist root-tree mapping for %v: %w", root, err)
	}
	f.rootTreeMemo.Add(root.String(), treeID)
	return treeID, nil
}

// PrefetchBlobs enqueues every id for readahead and waits for all of
// them. No local existence check is made: throughput over latency.
func (f *Fetcher) PrefetchBlobs(ctx context.Context, ids []model.ObjectID, opts ...RequestOption) error {
	defer f.recordAPITiming("prefetchBlobs", time.Now())
	o := applyRequestOptions(opts)
	if o.cause == CauseUnknown {
		o.cause = CausePrefetch
	}

	proxies, err := f.proxy.LoadBatch(ids, "prefetchBlobs")
	if err != nil {
		return err
	}

	type pending struct {
		req  *Request
		sink *promise
	}
	sinks := make([]pending, 0, len(ids))
	for i, id := range ids {
		req := newRequest(KindBlob, id, proxies[i], o.priority, o.cause, o.pid, TypePrefetch)
		f.publishTrace(queueEvent(req))
		sinks = append(sinks, pending{req: req, sink: f.queue.EnqueueBlob(req)})
	}

	var errs error
	for _, p := range sinks {
		res, waitErr := p.sink.wait(ctx)
		if !isContextError(waitErr) {
			f.publishTrace(finishEvent(p.req, res.source))
		}
		errs = multierr.Append(errs, waitErr)
	}
	return errs
}

// GetGlobFiles lists the files matching globs under a revision
func (f *Fetcher) GetGlobFiles(ctx context.Context, root model.RootID, globs []string, prefixes []string) (backend.GlobFilesResult, error) {
	defer f.recordAPITiming("getGlobFiles", time.Now())
	if err := ctx.Err(); err != nil {
		return backend.GlobFilesResult{}, err
	}
	return f.native.GetGlobFiles(root, globs, prefixes)
}

// CompareObjectsByID decides whether two object ids address the same
// content. Byte equality always means identical content; inequality is
// conclusive only under the bijective blob ids policy, otherwise the
// embedded revision hashes are compared and a mismatch stays unknown
// because revision hashes mix history into the id.
func (f *Fetcher) CompareObjectsByID(a, b model.ObjectID) model.ObjectComparison {
	if a.Equal(b) {
		return model.ComparisonIdentical
	}
	if f.cfg.BijectiveBlobIDs {
		return model.ComparisonDifferent
	}

	proxyA, errA := f.proxy.Load(a, "compareObjectsById")
	proxyB, errB := f.proxy.Load(b, "compareObjectsById")
	if errA != nil || errB != nil {
		return model.ComparisonUnknown
	}
	if proxyA.Rev == proxyB.Rev {
		return model.ComparisonIdentical
	}
	return model.ComparisonUnknown
}

// ParseObjectID parses the stable text form of an object id
func (f *Fetcher) ParseObjectID(text string) (model.ObjectID, error) {
	return model.ParseObjectID(text)
}

// RenderObjectID is the inverse of ParseObjectID
func (f *Fetcher) RenderObjectID(id model.ObjectID) string {
	return model.RenderObjectID(id)
}

// ParseRootID canonicalizes a textual revision identifier
func (f *Fetcher) ParseRootID(text string) (model.RootID, error) {
	return model.ParseRootID(text)
}

// RenderRootID re-encodes a root id to its binary form
func (f *Fetcher) RenderRootID(root model.RootID) string {
	return model.RenderRootID(root)
}

// StoreProxyHash encodes a (path, revision) pair as an object id at
// ingest time
func (f *Fetcher) StoreProxyHash(path string, rev model.Hash20, format model.IDFormat) (model.ObjectID, error) {
	return f.proxy.Store(path, rev, format)
}

// RepoName names the repository served by the native store
func (f *Fetcher) RepoName() string {
	return f.native.RepoName()
}
