package fetch

import (
	"sort"
	"sync"

	"github.com/arborfs/arbor/pkg/model"
)

// RequestQueue is the multi-producer multi-consumer queue of pending
// imports. Requests are partitioned by kind, ordered by priority with
// FIFO as tiebreaker, and deduplicated by object id: while a request is
// outstanding, later callers for the same id attach their promise to it
// instead of queueing a second fetch.
type RequestQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	running bool
	queues  [numKinds][]*Request
	tracker map[trackerKey]*Request
	seq     uint64

	batchSizes [numKinds]int
}

type trackerKey struct {
	kind Kind
	id   string
}

// NewRequestQueue creates a running queue with the given per-kind batch
// size caps
func NewRequestQueue(blobBatch, treeBatch, blobAuxBatch, treeAuxBatch int) *RequestQueue {
	q := &RequestQueue{}
	q.batchSizes[KindBlob] = atLeastOne(blobBatch)
	q.batchSizes[KindTree] = atLeastOne(treeBatch)
	q.batchSizes[KindBlobAux] = atLeastOne(blobAuxBatch)
	q.batchSizes[KindTreeAux] = atLeastOne(treeAuxBatch)
	q.cond = sync.NewCond(&q.mu)
	q.running = true
	q.tracker = make(map[trackerKey]*Request)
	return q
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// EnqueueBlob puts a blob import on the queue and returns its sink
func (q *RequestQueue) EnqueueBlob(req *Request) *promise {
	return q.enqueue(KindBlob, req)
}

// EnqueueTree puts a tree import on the queue and returns its sink
func (q *RequestQueue) EnqueueTree(req *Request) *promise {
	return q.enqueue(KindTree, req)
}

// EnqueueBlobAux puts a blob aux import on the queue and returns its sink
func (q *RequestQueue) EnqueueBlobAux(req *Request) *promise {
	return q.enqueue(KindBlobAux, req)
}

// EnqueueTreeAux puts a tree aux import on the queue and returns its sink
func (q *RequestQueue) EnqueueTreeAux(req *Request) *promise {
	return q.enqueue(KindTreeAux, req)
}

func (q *RequestQueue) enqueue(kind Kind, req *Request) *promise {
	if req.Kind != kind {
		panic("request enqueued under the wrong kind")
	}
	p := newPromise()

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		p.complete(fetchResult{}, ErrDroppedOnShutdown)
		return p
	}

	key := trackerKey{kind: kind, id: string(req.ID.Bytes())}
	if tracked, ok := q.tracker[key]; ok {
		// duplicate: attach the promise and raise the tracked priority
		tracked.sinks = append(tracked.sinks, p)
		tracked.Priority = tracked.Priority.Max(req.Priority)
		return p
	}

	q.seq++
	req.seq = q.seq
	req.sinks = append(req.sinks, p)
	q.tracker[key] = req
	q.queues[kind] = append(q.queues[kind], req)
	q.cond.Signal()
	return p
}

// Dequeue blocks until requests are available and returns a batch of
// homogeneous kind in priority order, capped by the kind's batch size.
// It returns an empty batch only once the queue is stopped.
func (q *RequestQueue) Dequeue() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if batch := q.takeBatchLocked(); batch != nil {
			return batch
		}
		if !q.running {
			return nil
		}
		q.cond.Wait()
	}
}

// takeBatchLocked drains trees before blobs before aux kinds: trees
// unblock directory walks that fan out into many blob requests.
func (q *RequestQueue) takeBatchLocked() []*Request {
	for _, kind := range []Kind{KindTree, KindBlob, KindBlobAux, KindTreeAux} {
		pending := q.queues[kind]
		if len(pending) == 0 {
			continue
		}
		sort.Slice(pending, func(i, j int) bool {
			if pending[i].Priority != pending[j].Priority {
				return pending[i].Priority.Above(pending[j].Priority)
			}
			return pending[i].seq < pending[j].seq
		})
		n := q.batchSizes[kind]
		if n > len(pending) {
			n = len(pending)
		}
		batch := make([]*Request, n)
		copy(batch, pending[:n])
		q.queues[kind] = pending[n:]
		return batch
	}
	return nil
}

// MarkBlobImportAsFinished resolves every sink attached to a blob id
// with a shared copy of the result
func (q *RequestQueue) MarkBlobImportAsFinished(id model.ObjectID, blob *model.Blob, source Source, err error) {
	q.markFinished(KindBlob, id, fetchResult{blob: blob, source: source}, err)
}

// MarkTreeImportAsFinished resolves every sink attached to a tree id
// with a shared copy of the result
func (q *RequestQueue) MarkTreeImportAsFinished(id model.ObjectID, tree *model.Tree, source Source, err error) {
	q.markFinished(KindTree, id, fetchResult{tree: tree, source: source}, err)
}

// MarkBlobAuxImportAsFinished resolves every sink attached to a blob aux
// id. A nil aux with a nil error is a valid outcome: the datum is
// missing and callers fall back to computing digests from the blob.
func (q *RequestQueue) MarkBlobAuxImportAsFinished(id model.ObjectID, aux *model.BlobAuxData, source Source, err error) {
	q.markFinished(KindBlobAux, id, fetchResult{blobAux: aux, source: source}, err)
}

// MarkTreeAuxImportAsFinished resolves every sink attached to a tree aux id
func (q *RequestQueue) MarkTreeAuxImportAsFinished(id model.ObjectID, aux *model.TreeAuxData, source Source, err error) {
	q.markFinished(KindTreeAux, id, fetchResult{treeAux: aux, source: source}, err)
}

func (q *RequestQueue) markFinished(kind Kind, id model.ObjectID, res fetchResult, err error) {
	key := trackerKey{kind: kind, id: string(id.Bytes())}

	q.mu.Lock()
	tracked, ok := q.tracker[key]
	var sinks []*promise
	if ok {
		delete(q.tracker, key)
		sinks = tracked.sinks
		tracked.sinks = nil
	}
	q.mu.Unlock()

	for _, sink := range sinks {
		sink.complete(res, err)
	}
}

// Stop wakes all consumers. Dequeue returns empty batches from now on
// and new requests are refused with ErrDroppedOnShutdown.
func (q *RequestQueue) Stop() {
	q.mu.Lock()
	q.running = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// CombineAndClearRequestQueues returns every request still waiting on
// the queue and clears all pending lists. Requests already dequeued by a
// worker are not included; they resolve through their batch.
func (q *RequestQueue) CombineAndClearRequestQueues() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var combined []*Request
	for kind := Kind(0); kind < numKinds; kind++ {
		for _, req := range q.queues[kind] {
			delete(q.tracker, trackerKey{kind: kind, id: string(req.ID.Bytes())})
			combined = append(combined, req)
		}
		q.queues[kind] = nil
	}
	return combined
}

// NumPending counts requests waiting on the queue, for tests and stats
func (q *RequestQueue) NumPending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for kind := Kind(0); kind < numKinds; kind++ {
		n += len(q.queues[kind])
	}
	return n
}
