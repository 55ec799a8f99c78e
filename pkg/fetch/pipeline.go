package fetch

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/pkg/backend"
	"github.com/arborfs/arbor/pkg/metrics"
	"github.com/arborfs/arbor/pkg/model"
)

// processRequest is the body of one fetcher worker: drain homogeneous
// batches until the queue stops.
func (f *Fetcher) processRequest() {
	for {
		requests := f.queue.Dequeue()
		if len(requests) == 0 {
			return
		}
		switch requests[0].Kind {
		case KindBlob:
			f.processBlobImportRequests(requests)
		case KindTree:
			f.processTreeImportRequests(requests)
		case KindBlobAux:
			f.processBlobAuxImportRequests(requests)
		case KindTreeAux:
			f.processTreeAuxImportRequests(requests)
		default:
			panic(fmt.Sprintf("unknown import request kind: %v", requests[0].Kind))
		}
	}
}

func (f *Fetcher) recordImportTiming(kind Kind, start time.Time) {
	if f.m == nil {
		return
	}
	metrics.Since(start, f.m.ImportTiming, map[string]string{"kind": kind.String()})
}

/* ====== blobs ====== */

func (f *Fetcher) processBlobImportRequests(requests []*Request) {
	defer f.recordImportTiming(KindBlob, time.Now())

	for _, r := range requests {
		f.publishTrace(startEvent(r))
	}

	if f.cfg.FetchInSingleBatch {
		f.getBlobBatch(requests, backend.AllowRemote)
	} else {
		f.getBlobBatch(requests, backend.LocalOnly)
		if remaining := unresolved(requests); len(remaining) > 0 {
			f.getBlobBatch(remaining, backend.RemoteOnly)
		}
	}

	for _, r := range unresolved(requests) {
		r := r
		f.retry.submit(func() { f.retryGetBlob(r) })
	}
}

// getBlobBatch drives one adapter call for the batch and resolves every
// sink the adapter answered
func (f *Fetcher) getBlobBatch(requests []*Request, mode backend.FetchMode) {
	groups, batch := f.prepareRequests(requests, KindBlob)
	if len(batch) == 0 {
		return
	}
	f.native.GetBlobBatch(batch, mode, func(i int, blob *model.Blob, err error) {
		if err != nil {
			return
		}
		for _, r := range groups[batch[i].Node] {
			if r.resolved {
				continue
			}
			r.resolved = true
			source := sourceForMode(mode)
			f.recordSuccess(KindBlob, source)
			f.queue.MarkBlobImportAsFinished(r.ID, blob, source, nil)
		}
	})
}

// retryGetBlob is the last stage of the cascade: flush the native store
// so freshly written local data becomes visible, then walk local and
// remote once more before declaring the miss terminal.
func (f *Fetcher) retryGetBlob(r *Request) {
	if err := f.native.Flush(); err != nil {
		f.l.Debug("native store flush failed before retry", zap.Error(err))
	}

	blob, err := f.native.GetBlob(r.Proxy.Rev, backend.LocalOnly)
	if err != nil {
		blob, err = f.fetchBlobRemoteWithBackoff(r.Proxy.Rev)
	}

	if err == nil {
		r.resolved = true
		f.recordRetrySuccess(KindBlob)
		f.queue.MarkBlobImportAsFinished(r.ID, blob, SourceUnknown, nil)
		return
	}

	f.recordFailure(KindBlob)
	f.logFetchMiss(backend.TypeBlob, r, err, true)
	f.queue.MarkBlobImportAsFinished(r.ID, nil, SourceNone, err)
}

func (f *Fetcher) fetchBlobRemoteWithBackoff(node model.Hash20) (*model.Blob, error) {
	var blob *model.Blob
	err := backoff.Retry(func() error {
		var e error
		blob, e = f.native.GetBlob(node, backend.RemoteOnly)
		if e != nil && !errors.Is(e, backend.ErrTransient) {
			return backoff.Permanent(e)
		}
		return e
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(f.cfg.RetryBackoff), f.cfg.RetryMaxAttempts))
	return blob, err
}

/* ====== trees ====== */

func (f *Fetcher) processTreeImportRequests(requests []*Request) {
	defer f.recordImportTiming(KindTree, time.Now())

	for _, r := range requests {
		f.publishTrace(startEvent(r))
	}

	if f.cfg.FetchInSingleBatch {
		f.getTreeBatch(requests, backend.AllowRemote)
	} else {
		f.getTreeBatch(requests, backend.LocalOnly)
		if remaining := unresolved(requests); len(remaining) > 0 {
			f.getTreeBatch(remaining, backend.RemoteOnly)
		}
	}

	for _, r := range unresolved(requests) {
		r := r
		f.retry.submit(func() { f.retryGetTree(r) })
	}
}

func (f *Fetcher) getTreeBatch(requests []*Request, mode backend.FetchMode) {
	groups, batch := f.prepareRequests(requests, KindTree)
	if len(batch) == 0 {
		return
	}
	f.native.GetTreeBatch(batch, mode, func(i int, tree *model.Tree, err error) {
		if err != nil {
			return
		}
		for _, r := range groups[batch[i].Node] {
			if r.resolved {
				continue
			}
			r.resolved = true
			source := sourceForMode(mode)
			f.recordSuccess(KindTree, source)
			f.queue.MarkTreeImportAsFinished(r.ID, tree, source, nil)
		}
	})
}

func (f *Fetcher) retryGetTree(r *Request) {
	if err := f.native.Flush(); err != nil {
		f.l.Debug("native store flush failed before retry", zap.Error(err))
	}

	tree, err := f.native.GetTree(r.Proxy.Rev, backend.LocalOnly)
	if err != nil {
		err = backoff.Retry(func() error {
			var e error
			tree, e = f.native.GetTree(r.Proxy.Rev, backend.RemoteOnly)
			if e != nil && !errors.Is(e, backend.ErrTransient) {
				return backoff.Permanent(e)
			}
			return e
		}, backoff.WithMaxRetries(backoff.NewConstantBackOff(f.cfg.RetryBackoff), f.cfg.RetryMaxAttempts))
	}

	if err == nil {
		r.resolved = true
		f.recordRetrySuccess(KindTree)
		f.queue.MarkTreeImportAsFinished(r.ID, tree, SourceUnknown, nil)
		return
	}

	f.recordFailure(KindTree)
	f.logFetchMiss(backend.TypeTree, r, err, true)
	f.queue.MarkTreeImportAsFinished(r.ID, nil, SourceNone, err)
}

/* ====== blob aux ====== */

func (f *Fetcher) processBlobAuxImportRequests(requests []*Request) {
	defer f.recordImportTiming(KindBlobAux, time.Now())

	for _, r := range requests {
		f.publishTrace(startEvent(r))
	}

	if f.cfg.FetchInSingleBatch {
		f.getBlobAuxBatch(requests, false, SourceUnknown)
	} else {
		f.getBlobAuxBatch(requests, true, SourceLocal)
		if remaining := unresolved(requests); len(remaining) > 0 {
			f.getBlobAuxBatch(remaining, false, SourceRemote)
		}
	}

	// aux retries never chain into a nested blob fetch: resolving a
	// missing datum as null lets the caller compute digests from a later
	// blob fetch instead of deadlocking the worker pool
	for _, r := range unresolved(requests) {
		r := r
		f.retry.submit(func() { f.retryGetBlobAux(r) })
	}
}

func (f *Fetcher) getBlobAuxBatch(requests []*Request, localOnly bool, source Source) {
	groups, batch := f.prepareRequests(requests, KindBlobAux)
	if len(batch) == 0 {
		return
	}
	f.native.GetBlobAuxDataBatch(batch, localOnly, func(i int, aux *model.BlobAuxData, err error) {
		if err != nil {
			return
		}
		for _, r := range groups[batch[i].Node] {
			if r.resolved {
				continue
			}
			r.resolved = true
			f.recordSuccess(KindBlobAux, source)
			f.queue.MarkBlobAuxImportAsFinished(r.ID, aux, source, nil)
		}
	})
}

func (f *Fetcher) retryGetBlobAux(r *Request) {
	if err := f.native.Flush(); err != nil {
		f.l.Debug("native store flush failed before retry", zap.Error(err))
	}

	aux, err := f.native.GetBlobAuxData(r.Proxy.Rev, true)
	if err != nil {
		aux, err = f.native.GetBlobAuxData(r.Proxy.Rev, false)
	}

	r.resolved = true
	if err == nil {
		f.recordRetrySuccess(KindBlobAux)
		f.queue.MarkBlobAuxImportAsFinished(r.ID, aux, SourceUnknown, nil)
		return
	}

	f.logFetchMiss(backend.TypeBlobAux, r, err, true)
	f.queue.MarkBlobAuxImportAsFinished(r.ID, nil, SourceNone, nil)
}

/* ====== tree aux ====== */

func (f *Fetcher) processTreeAuxImportRequests(requests []*Request) {
	defer f.recordImportTiming(KindTreeAux, time.Now())

	for _, r := range requests {
		f.publishTrace(startEvent(r))
	}

	if f.cfg.FetchInSingleBatch {
		f.getTreeAuxBatch(requests, false, SourceUnknown)
	} else {
		f.getTreeAuxBatch(requests, true, SourceLocal)
		if remaining := unresolved(requests); len(remaining) > 0 {
			f.getTreeAuxBatch(remaining, false, SourceRemote)
		}
	}

	for _, r := range unresolved(requests) {
		r := r
		f.retry.submit(func() { f.retryGetTreeAux(r) })
	}
}

func (f *Fetcher) getTreeAuxBatch(requests []*Request, localOnly bool, source Source) {
	groups, batch := f.prepareRequests(requests, KindTreeAux)
	if len(batch) == 0 {
		return
	}
	f.native.GetTreeAuxDataBatch(batch, localOnly, func(i int, aux *model.TreeAuxData, err error) {
		if err != nil {
			return
		}
		for _, r := range groups[batch[i].Node] {
			if r.resolved {
				continue
			}
			r.resolved = true
			f.recordSuccess(KindTreeAux, source)
			f.queue.MarkTreeAuxImportAsFinished(r.ID, aux, source, nil)
		}
	})
}

func (f *Fetcher) retryGetTreeAux(r *Request) {
	if err := f.native.Flush(); err != nil {
		f.l.Debug("native store flush failed before retry", zap.Error(err))
	}

	aux, err := f.native.GetTreeAuxData(r.Proxy.Rev, true)
	if err != nil {
		aux, err = f.native.GetTreeAuxData(r.Proxy.Rev, false)
	}

	r.resolved = true
	if err == nil {
		f.recordRetrySuccess(KindTreeAux)
		f.queue.MarkTreeAuxImportAsFinished(r.ID, aux, SourceUnknown, nil)
		return
	}

	f.logFetchMiss(backend.TypeTreeAux, r, err, true)
	f.queue.MarkTreeAuxImportAsFinished(r.ID, nil, SourceNone, nil)
}

/* ====== batch preparation ====== */

// prepareRequests groups a batch by revision hash so the adapter sees
// each node once, then expands the adapter batch per distinct cause:
// two requests for the same node with different causes both propagate
// their cause.
func (f *Fetcher) prepareRequests(requests []*Request, kind Kind) (map[model.Hash20][]*Request, []backend.Request) {
	groups := make(map[model.Hash20][]*Request, len(requests))
	order := make([]model.Hash20, 0, len(requests))
	for _, r := range requests {
		node := r.Proxy.Rev
		prior, ok := groups[node]
		if !ok {
			groups[node] = []*Request{r}
			order = append(order, node)
			continue
		}
		if ce := f.l.Check(zap.DebugLevel, "duplicate fetch request"); ce != nil {
			// two paths sharing content legitimately produce the same
			// proxy hash under different object ids
			for _, p := range prior {
				if !p.ID.Equal(r.ID) {
					f.l.Debug("same proxy hash carries two object ids",
						zap.String("kind", kind.String()),
						zap.String("node", node.String()),
						zap.String("priorID", p.ID.String()),
						zap.String("currentID", r.ID.String()),
					)
				}
			}
		}
		groups[node] = append(prior, r)
	}

	batch := make([]backend.Request, 0, len(order))
	for _, node := range order {
		seenCauses := make(map[Cause]struct{}, 2)
		for _, r := range groups[node] {
			if _, ok := seenCauses[r.Cause]; ok {
				continue
			}
			seenCauses[r.Cause] = struct{}{}
			batch = append(batch, backend.Request{Node: node, Cause: r.Cause.String()})
		}
	}
	return groups, batch
}

func unresolved(requests []*Request) []*Request {
	var remaining []*Request
	for _, r := range requests {
		if !r.resolved {
			remaining = append(remaining, r)
		}
	}
	return remaining
}

func sourceForMode(mode backend.FetchMode) Source {
	switch mode {
	case backend.LocalOnly:
		return SourceLocal
	case backend.RemoteOnly:
		return SourceRemote
	default:
		return SourceUnknown
	}
}
