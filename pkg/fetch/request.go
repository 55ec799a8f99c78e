package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arborfs/arbor/pkg/model"
)

var uniqueCounter uint64

func nextUnique() uint64 {
	return atomic.AddUint64(&uniqueCounter, 1)
}

// fetchResult is the uniform payload a promise resolves with. At most
// one object field is set, matching the request kind; none is set on
// failure or for a missing aux datum.
type fetchResult struct {
	blob    *model.Blob
	tree    *model.Tree
	blobAux *model.BlobAuxData
	treeAux *model.TreeAuxData
	source  Source
}

// promise is the completion sink of one caller. A shared copy of the
// import result resolves every promise attached to the same object id.
type promise struct {
	done chan struct{}
	once sync.Once
	res  fetchResult
	err  error
}

func newPromise() *promise {
	return &promise{done: make(chan struct{})}
}

func (p *promise) complete(res fetchResult, err error) {
	p.once.Do(func() {
		p.res = res
		p.err = err
		close(p.done)
	})
}

func (p *promise) wait(ctx context.Context) (fetchResult, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return fetchResult{}, ctx.Err()
	}
}

// Request is one pending import: everything needed to fulfill it plus
// the promises of every caller that asked for the same object id.
type Request struct {
	Kind      Kind
	ID        model.ObjectID
	Proxy     model.ProxyHash
	Priority  Priority
	Cause     Cause
	Pid       int
	FetchType FetchType

	unique     uint64
	seq        uint64
	enqueuedAt time.Time

	// owned by the queue lock until dequeued, then by the worker
	sinks    []*promise
	resolved bool
}

func newRequest(kind Kind, id model.ObjectID, proxy model.ProxyHash, pri Priority, cause Cause, pid int, ft FetchType) *Request {
	return &Request{
		Kind:       kind,
		ID:         id,
		Proxy:      proxy,
		Priority:   pri,
		Cause:      cause,
		Pid:        pid,
		FetchType:  ft,
		unique:     nextUnique(),
		enqueuedAt: time.Now(),
	}
}

// Unique returns the identifier correlating the trace events of this
// request
func (r *Request) Unique() uint64 {
	return r.unique
}
