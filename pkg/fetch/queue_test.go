package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/arbor/pkg/model"
)

func testProxy(t *testing.T, revHex, path string) model.ProxyHash {
	t.Helper()
	rev, err := model.Hash20FromHex(revHex)
	require.NoError(t, err)
	return model.ProxyHash{Rev: rev, Path: path}
}

func blobRequest(t *testing.T, revHex, path string, pri Priority) *Request {
	t.Helper()
	proxy := testProxy(t, revHex, path)
	return newRequest(KindBlob, proxy.Embed(), proxy, pri, CauseFS, 0, TypeFetch)
}

const (
	revA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	revB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	revC = "cccccccccccccccccccccccccccccccccccccccc"
)

func TestQueue_DequeueInPriorityOrder(t *testing.T) {
	q := NewRequestQueue(10, 10, 10, 10)

	low := blobRequest(t, revA, "low", LowPriority())
	normal := blobRequest(t, revB, "normal", NormalPriority())
	high := blobRequest(t, revC, "high", HighPriority())

	q.EnqueueBlob(low)
	q.EnqueueBlob(normal)
	q.EnqueueBlob(high)

	batch := q.Dequeue()
	require.Len(t, batch, 3)
	assert.Equal(t, "high", batch[0].Proxy.Path)
	assert.Equal(t, "normal", batch[1].Proxy.Path)
	assert.Equal(t, "low", batch[2].Proxy.Path)
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewRequestQueue(10, 10, 10, 10)
	first := blobRequest(t, revA, "first", NormalPriority())
	second := blobRequest(t, revB, "second", NormalPriority())

	q.EnqueueBlob(first)
	q.EnqueueBlob(second)

	batch := q.Dequeue()
	require.Len(t, batch, 2)
	assert.Equal(t, "first", batch[0].Proxy.Path)
	assert.Equal(t, "second", batch[1].Proxy.Path)
}

func TestQueue_BatchSizeCap(t *testing.T) {
	q := NewRequestQueue(2, 10, 10, 10)
	q.EnqueueBlob(blobRequest(t, revA, "a", NormalPriority()))
	q.EnqueueBlob(blobRequest(t, revB, "b", NormalPriority()))
	q.EnqueueBlob(blobRequest(t, revC, "c", NormalPriority()))

	assert.Len(t, q.Dequeue(), 2)
	assert.Len(t, q.Dequeue(), 1)
}

func TestQueue_TreesDrainBeforeBlobs(t *testing.T) {
	q := NewRequestQueue(10, 10, 10, 10)
	q.EnqueueBlob(blobRequest(t, revA, "blob", HighPriority()))

	treeProxy := testProxy(t, revB, "dir")
	tree := newRequest(KindTree, treeProxy.Embed(), treeProxy, LowPriority(), CauseFS, 0, TypeFetch)
	q.EnqueueTree(tree)

	batch := q.Dequeue()
	require.Len(t, batch, 1)
	assert.Equal(t, KindTree, batch[0].Kind)

	batch = q.Dequeue()
	require.Len(t, batch, 1)
	assert.Equal(t, KindBlob, batch[0].Kind)
}

func TestQueue_DuplicateAttachesAndSharesResult(t *testing.T) {
	q := NewRequestQueue(10, 10, 10, 10)
	first := blobRequest(t, revA, "p", NormalPriority())
	dup := blobRequest(t, revA, "p", HighPriority())
	require.True(t, first.ID.Equal(dup.ID))

	p1 := q.EnqueueBlob(first)
	p2 := q.EnqueueBlob(dup)

	// the duplicate did not queue a second request, but raised priority
	batch := q.Dequeue()
	require.Len(t, batch, 1)
	assert.Equal(t, HighPriority(), batch[0].Priority)

	blob := model.NewBlob([]byte("content"))
	q.MarkBlobImportAsFinished(first.ID, blob, SourceRemote, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res1, err := p1.wait(ctx)
	require.NoError(t, err)
	res2, err := p2.wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, blob, res1.blob)
	assert.Equal(t, blob, res2.blob, "both sinks share one result")
	assert.Equal(t, SourceRemote, res1.source)
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewRequestQueue(10, 10, 10, 10)

	got := make(chan []*Request, 1)
	go func() { got <- q.Dequeue() }()

	select {
	case <-got:
		t.Fatal("dequeue returned without requests")
	case <-time.After(20 * time.Millisecond):
	}

	q.EnqueueBlob(blobRequest(t, revA, "p", NormalPriority()))
	select {
	case batch := <-got:
		require.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestQueue_StopWakesConsumersAndRefusesRequests(t *testing.T) {
	q := NewRequestQueue(10, 10, 10, 10)

	got := make(chan []*Request, 1)
	go func() { got <- q.Dequeue() }()

	q.Stop()
	select {
	case batch := <-got:
		assert.Empty(t, batch)
	case <-time.After(time.Second):
		t.Fatal("stop did not wake the consumer")
	}

	p := q.EnqueueBlob(blobRequest(t, revA, "p", NormalPriority()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := p.wait(ctx)
	require.ErrorIs(t, err, ErrDroppedOnShutdown)
}

func TestQueue_CombineAndClear(t *testing.T) {
	q := NewRequestQueue(10, 10, 10, 10)
	q.EnqueueBlob(blobRequest(t, revA, "a", NormalPriority()))
	q.EnqueueBlob(blobRequest(t, revB, "b", NormalPriority()))

	treeProxy := testProxy(t, revC, "dir")
	q.EnqueueTree(newRequest(KindTree, treeProxy.Embed(), treeProxy, NormalPriority(), CauseFS, 0, TypeFetch))

	combined := q.CombineAndClearRequestQueues()
	assert.Len(t, combined, 3)
	assert.Zero(t, q.NumPending())
}
