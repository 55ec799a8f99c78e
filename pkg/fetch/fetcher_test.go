package fetch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arborfs/arbor/pkg/backend"
	"github.com/arborfs/arbor/pkg/backend/mock"
	"github.com/arborfs/arbor/pkg/model"
	"github.com/arborfs/arbor/pkg/store"
	"github.com/arborfs/arbor/pkg/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the opencensus default worker lives for the whole process
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestFetcher(t *testing.T, native backend.Store, opts ...Option) *Fetcher {
	t.Helper()
	local := memory.New()
	require.NoError(t, local.Open())
	t.Cleanup(func() { _ = local.Close() })
	return newTestFetcherWithStore(t, native, local, opts...)
}

func newTestFetcherWithStore(t *testing.T, native backend.Store, local store.Store, opts ...Option) *Fetcher {
	t.Helper()
	all := append([]Option{
		WithWorkers(1),
		WithInlineRetries(),
		WithFlushInterval(0),
	}, opts...)
	f, err := New(native, local, all...)
	require.NoError(t, err)
	f.Start()
	t.Cleanup(f.Stop)
	return f
}

func mustHash(t *testing.T, hex string) model.Hash20 {
	t.Helper()
	h, err := model.Hash20FromHex(hex)
	require.NoError(t, err)
	return h
}

func mustParseID(t *testing.T, text string) model.ObjectID {
	t.Helper()
	id, err := model.ParseObjectID(text)
	require.NoError(t, err)
	return id
}

// S1: a locally available blob is served synchronously with no queue
// work and no remote call.
func TestGetBlob_LocalFastPath(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("deadbeef", 5))
	proxy, ok := model.ProxyHashFromObjectID(id)
	require.True(t, ok)
	native.AddLocalBlob(proxy.Rev, model.NewBlob([]byte("hello\n")))

	f := newTestFetcher(t, native)

	res, err := f.GetBlob(testContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), res.Blob.Bytes())
	assert.Equal(t, OriginFromDiskCache, res.Origin)

	calls := native.CallsOf(backend.TypeBlob)
	require.Len(t, calls, 1)
	assert.Equal(t, backend.LocalOnly, calls[0].Mode)
	assert.False(t, calls[0].Batch)
}

// S2: concurrent getTree callers for the same id share one remote
// fetch result; the adapter never sees the id twice in one batch.
func TestGetTree_ConcurrentCallersShareRemoteResult(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("aaaa", 10)+":src/lib")
	proxy, ok := model.ProxyHashFromObjectID(id)
	require.True(t, ok)

	remoteTree := model.NewTree([]model.TreeEntry{
		{Name: "m.rs", ID: id, Type: model.EntryRegularFile},
	}, true)
	native.AddRemoteTree(proxy.Rev, remoteTree)

	f := newTestFetcher(t, native)
	ctx := testContext(t)

	const callers = 2
	results := make([]TreeResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.GetTree(ctx, id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, OriginFromNetworkFetch, results[i].Origin)
		assert.Same(t, remoteTree, results[i].Tree, "all callers share the result")
		entry, ok := results[i].Tree.Find("m.rs")
		require.True(t, ok)
		assert.Equal(t, model.EntryRegularFile, entry.Type)
	}

	for _, call := range native.CallsOf(backend.TypeTree) {
		if !call.Batch {
			continue
		}
		seen := make(map[model.Hash20]int)
		for _, node := range call.Nodes {
			seen[node]++
			assert.LessOrEqual(t, seen[node], 1, "adapter saw the id twice in one batch")
		}
	}
}

// P4: many concurrent getBlob calls for one id collapse into at most
// one adapter request per dequeue batch, and all resolve byte-equal.
func TestGetBlob_DeduplicatesAcrossConcurrentCallers(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("bbbb", 10)+":big/file")
	proxy, _ := model.ProxyHashFromObjectID(id)
	native.AddRemoteBlob(proxy.Rev, model.NewBlob([]byte("payload")))

	local := memory.New()
	require.NoError(t, local.Open())
	t.Cleanup(func() { _ = local.Close() })

	f, err := New(native, local, WithWorkers(1), WithInlineRetries(), WithFlushInterval(0))
	require.NoError(t, err)
	t.Cleanup(f.Stop)

	// enqueue everything before the workers run so one batch holds all
	// callers
	const callers = 16
	ctx := testContext(t)
	var wg sync.WaitGroup
	blobs := make([][]byte, callers)
	callErrs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.GetBlob(ctx, id)
			callErrs[i] = err
			if err == nil {
				blobs[i] = res.Blob.Bytes()
			}
		}(i)
	}

	require.Eventually(t, func() bool { return f.queue.NumPending() == 1 },
		5*time.Second, time.Millisecond, "duplicates must attach, not queue")
	f.Start()
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, callErrs[i])
		assert.Equal(t, []byte("payload"), blobs[i])
	}
	for _, call := range native.CallsOf(backend.TypeBlob) {
		if call.Batch {
			assert.Len(t, call.Nodes, 1)
		}
	}
}

// P5: the cascade tags stages correctly and skips later stages after a
// hit.
func TestFetchModeCascade(t *testing.T) {
	t.Run("local hit skips remote", func(t *testing.T) {
		native := mock.New("repo")
		id := mustParseID(t, strings.Repeat("cccc", 10))
		proxy, _ := model.ProxyHashFromObjectID(id)
		native.AddLocalBlob(proxy.Rev, model.NewBlob([]byte("x")))

		f := newTestFetcher(t, native)
		res, err := f.GetBlob(testContext(t), id)
		require.NoError(t, err)
		assert.Equal(t, OriginFromDiskCache, res.Origin)

		for _, call := range native.CallsOf(backend.TypeBlob) {
			assert.NotEqual(t, backend.RemoteOnly, call.Mode)
		}
	})

	t.Run("remote hit is tagged remote", func(t *testing.T) {
		native := mock.New("repo")
		id := mustParseID(t, strings.Repeat("dddd", 10))
		proxy, _ := model.ProxyHashFromObjectID(id)
		native.AddRemoteBlob(proxy.Rev, model.NewBlob([]byte("y")))

		f := newTestFetcher(t, native)
		res, err := f.GetBlob(testContext(t), id)
		require.NoError(t, err)
		assert.Equal(t, OriginFromNetworkFetch, res.Origin)

		assert.Eventually(t, func() bool {
			for _, row := range f.Activity().Snapshot() {
				if !row.Active() && row.Source == SourceRemote {
					return true
				}
			}
			return false
		}, 5*time.Second, time.Millisecond, "finish event should carry the remote source")
	})

	t.Run("retry success is tagged unknown", func(t *testing.T) {
		native := mock.New("repo")
		id := mustParseID(t, strings.Repeat("abcd", 10))
		proxy, _ := model.ProxyHashFromObjectID(id)
		// the blob only becomes visible after the retry flushes the
		// native store
		native.StageBlob(proxy.Rev, model.NewBlob([]byte("late")))

		f := newTestFetcher(t, native)
		res, err := f.GetBlob(testContext(t), id)
		require.NoError(t, err)
		assert.Equal(t, []byte("late"), res.Blob.Bytes())
		assert.Equal(t, OriginFromNetworkFetch, res.Origin)

		assert.Eventually(t, func() bool {
			for _, row := range f.Activity().Snapshot() {
				if !row.Active() && row.Source == SourceUnknown {
					return true
				}
			}
			return false
		}, 5*time.Second, time.Millisecond)
	})
}

// S4: a blob missing at every stage resolves with the terminal error
// and emits exactly one fetch miss event flagged as retry.
func TestGetBlob_TerminalMissEmitsFetchMiss(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("eeee", 10))

	core, logs := observer.New(zap.WarnLevel)
	f := newTestFetcher(t, native, WithLogger(zap.New(core)))

	_, err := f.GetBlob(testContext(t), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrObjectNotFound)

	misses := logs.FilterMessage("fetch miss").All()
	require.Len(t, misses, 1)
	fields := misses[0].ContextMap()
	assert.Equal(t, "blob", fields["kind"])
	assert.Equal(t, true, fields["isRetry"])
	assert.Contains(t, fields, "dogfoodingHost")
}

// S5: prefetch enqueues everything without a local existence check and
// resolves all sinks.
func TestPrefetchBlobs(t *testing.T) {
	native := mock.New("repo")
	idA := mustParseID(t, strings.Repeat("aaaa", 10)+":file/a")
	idB := mustParseID(t, strings.Repeat("bbbb", 10)+":file/b")
	proxyA, _ := model.ProxyHashFromObjectID(idA)
	proxyB, _ := model.ProxyHashFromObjectID(idB)
	native.AddRemoteBlob(proxyA.Rev, model.NewBlob([]byte("A")))
	native.AddLocalBlob(proxyB.Rev, model.NewBlob([]byte("B")))

	local := memory.New()
	require.NoError(t, local.Open())
	t.Cleanup(func() { _ = local.Close() })
	f, err := New(native, local, WithWorkers(1), WithInlineRetries(), WithFlushInterval(0))
	require.NoError(t, err)
	t.Cleanup(f.Stop)

	done := make(chan error, 1)
	go func() { done <- f.PrefetchBlobs(testContext(t), []model.ObjectID{idA, idB}) }()

	require.Eventually(t, func() bool { return f.queue.NumPending() == 2 },
		5*time.Second, time.Millisecond, "prefetch must enqueue without local existence checks")
	f.Start()
	require.NoError(t, <-done)

	batches := 0
	for _, call := range native.CallsOf(backend.TypeBlob) {
		if call.Batch && call.Mode == backend.LocalOnly {
			batches++
			assert.Len(t, call.Nodes, 2, "both prefetches belong to one batch")
		}
	}
	assert.Equal(t, 1, batches)
}

// S6: stopping with pending requests drops every one of them.
func TestStop_DropsAllPendingRequests(t *testing.T) {
	native := mock.New("repo")
	local := memory.New()
	require.NoError(t, local.Open())
	t.Cleanup(func() { _ = local.Close() })

	f, err := New(native, local, WithWorkers(1), WithInlineRetries(), WithFlushInterval(0))
	require.NoError(t, err)

	const pending = 100
	ctx := testContext(t)
	errs := make(chan error, pending)
	for i := 0; i < pending; i++ {
		id := model.ProxyHash{Rev: mock.GenerateHash(), Path: "f"}.Embed()
		go func(id model.ObjectID) {
			_, err := f.GetBlob(ctx, id)
			errs <- err
		}(id)
	}

	require.Eventually(t, func() bool { return f.queue.NumPending() == pending },
		5*time.Second, time.Millisecond)
	f.Stop()

	for i := 0; i < pending; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrDroppedOnShutdown)
		case <-time.After(5 * time.Second):
			t.Fatal("sink did not resolve after stop")
		}
	}
}

// S3 and the root-tree memo: the commit mapping is cached and the
// manifest is not consulted twice.
func TestGetRootTree_CachesCommitMapping(t *testing.T) {
	native := mock.New("repo")
	root, err := model.ParseRootID(strings.Repeat("0", 40))
	require.NoError(t, err)

	rootNode := mock.GenerateHash()
	native.SetManifest(root.Hash(), rootNode)
	emptyTree := model.NewTree(nil, true)
	native.AddLocalTree(rootNode, emptyTree)

	local := memory.New()
	require.NoError(t, local.Open())
	t.Cleanup(func() { _ = local.Close() })
	f := newTestFetcherWithStore(t, native, local)

	res, err := f.GetRootTree(testContext(t), root)
	require.NoError(t, err)
	assert.Zero(t, res.Tree.Len())
	assert.Equal(t, OriginFromDiskCache, res.Origin)

	// the mapping was persisted under the binary root key
	raw, err := local.Get(store.HgCommitToTree, root.BinaryKey())
	require.NoError(t, err)
	assert.Equal(t, res.TreeID.Bytes(), raw)

	// poison the manifest: a second lookup must come from the cache
	native.SetManifest(root.Hash(), mock.GenerateHash())
	res2, err := f.GetRootTree(testContext(t), root)
	require.NoError(t, err)
	assert.True(t, res.TreeID.Equal(res2.TreeID))
}

func TestGetRootTree_UnknownCommit(t *testing.T) {
	native := mock.New("repo")
	f := newTestFetcher(t, native)

	root, err := model.ParseRootID(strings.Repeat("12", 20))
	require.NoError(t, err)
	_, err = f.GetRootTree(testContext(t), root)
	require.ErrorIs(t, err, ErrCommitNotFound)
}

// P2: embedded proxy hashes never touch the local store. The store stub
// fails every read to prove it.
func TestEmbeddedIDsNeverReadTheLocalStore(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("feed", 10)+":src/x")
	proxy, _ := model.ProxyHashFromObjectID(id)
	native.AddLocalBlob(proxy.Rev, model.NewBlob([]byte("z")))

	f := newTestFetcherWithStore(t, native, failingStore{})

	res, err := f.GetBlob(testContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, OriginFromDiskCache, res.Origin)
}

func TestIndirectIDWithoutRowFails(t *testing.T) {
	native := mock.New("repo")
	f := newTestFetcher(t, native)

	id := mustParseID(t, "proxy-"+strings.Repeat("ab", 20))
	_, err := f.GetBlob(testContext(t), id)
	require.ErrorIs(t, err, ErrMissingProxyHash)
}

// P3: comparison laws.
func TestCompareObjectsByID(t *testing.T) {
	native := mock.New("repo")

	samePathA := mustParseID(t, strings.Repeat("aaaa", 10)+":x")
	samePathB := mustParseID(t, strings.Repeat("aaaa", 10)+":y")
	other := mustParseID(t, strings.Repeat("bbbb", 10)+":x")

	t.Run("default policy", func(t *testing.T) {
		f := newTestFetcher(t, native)
		assert.Equal(t, model.ComparisonIdentical, f.CompareObjectsByID(samePathA, samePathA))
		assert.Equal(t, model.ComparisonIdentical, f.CompareObjectsByID(samePathA, samePathB),
			"same revision hash means same content even for distinct paths")
		assert.Equal(t, model.ComparisonUnknown, f.CompareObjectsByID(samePathA, other),
			"revision hashes mix in history, inequality is inconclusive")
	})

	t.Run("bijective policy", func(t *testing.T) {
		f := newTestFetcher(t, native, WithBijectiveBlobIDs(true))
		assert.Equal(t, model.ComparisonIdentical, f.CompareObjectsByID(samePathA, samePathA))
		assert.Equal(t, model.ComparisonDifferent, f.CompareObjectsByID(samePathA, samePathB))
	})
}

func TestSingleBatchModeTagsSourceUnknown(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("9876", 10))
	proxy, _ := model.ProxyHashFromObjectID(id)
	native.AddRemoteBlob(proxy.Rev, model.NewBlob([]byte("w")))

	f := newTestFetcher(t, native, WithFetchInSingleBatch(true))

	res, err := f.GetBlob(testContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, OriginFromNetworkFetch, res.Origin)

	sawAllowRemote := false
	for _, call := range native.CallsOf(backend.TypeBlob) {
		if call.Batch {
			assert.Equal(t, backend.AllowRemote, call.Mode)
			sawAllowRemote = true
		}
	}
	assert.True(t, sawAllowRemote)

	assert.Eventually(t, func() bool {
		for _, row := range f.Activity().Snapshot() {
			if !row.Active() && row.Source == SourceUnknown {
				return true
			}
		}
		return false
	}, 5*time.Second, time.Millisecond)
}

// Missing aux data resolves as a null value instead of failing or
// chaining into a nested blob fetch.
func TestGetBlobAux_MissingResolvesNull(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("4444", 10)+":f")

	f := newTestFetcher(t, native)

	res, err := f.GetBlobAux(testContext(t), id)
	require.NoError(t, err)
	assert.Nil(t, res.Aux)
	assert.Equal(t, OriginFromNetworkFetch, res.Origin)
}

func TestGetBlobAux_LocalHit(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("5555", 10)+":f")
	proxy, _ := model.ProxyHashFromObjectID(id)
	_, aux := mock.GenerateBlob(128)
	native.AddLocalBlobAux(proxy.Rev, &aux)

	f := newTestFetcher(t, native)

	res, err := f.GetBlobAux(testContext(t), id)
	require.NoError(t, err)
	require.NotNil(t, res.Aux)
	assert.Equal(t, aux, *res.Aux)
	assert.Equal(t, OriginFromDiskCache, res.Origin)
}

func TestGetTreeAux_RemoteHit(t *testing.T) {
	native := mock.New("repo")
	id := mustParseID(t, strings.Repeat("6666", 10)+":dir")
	proxy, _ := model.ProxyHashFromObjectID(id)
	aux := &model.TreeAuxData{DigestSize: 7}
	native.AddRemoteTreeAux(proxy.Rev, aux)

	f := newTestFetcher(t, native)

	res, err := f.GetTreeAux(testContext(t), id)
	require.NoError(t, err)
	require.NotNil(t, res.Aux)
	assert.EqualValues(t, 7, res.Aux.DigestSize)
	assert.Equal(t, OriginFromNetworkFetch, res.Origin)
}

func TestNew_RejectsDisagreeingCachingSurfaces(t *testing.T) {
	native := mock.New("repo")
	local := memory.New()
	require.NoError(t, local.Open())
	t.Cleanup(func() { _ = local.Close() })

	cfg := DefaultConfig()
	cfg.EnableBlobLocalStoreCaching = false
	cfg.LocalStoreCachingPolicy = CacheAnything

	_, err := New(native, local, WithConfig(cfg))
	require.ErrorIs(t, err, ErrCachingPolicyConflict)
}

func TestGetGlobFiles(t *testing.T) {
	native := mock.New("repo")
	root, err := model.ParseRootID(strings.Repeat("34", 20))
	require.NoError(t, err)
	native.SetGlobFiles(root, "**/*.rs", []string{"src/main.rs", "src/lib.rs"})

	f := newTestFetcher(t, native)

	res, err := f.GetGlobFiles(testContext(t), root, []string{"**/*.rs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.rs", "src/lib.rs"}, res.Files)
}

func TestStoreProxyHash_IndirectRoundTrip(t *testing.T) {
	native := mock.New("repo")
	local := memory.New()
	require.NoError(t, local.Open())
	t.Cleanup(func() { _ = local.Close() })
	f := newTestFetcherWithStore(t, native, local)

	rev := mustHash(t, strings.Repeat("77", 20))
	id, err := f.StoreProxyHash("deep/path", rev, model.FormatIndirect)
	require.NoError(t, err)
	require.True(t, id.IsIndirect())

	proxy, err := f.proxy.Load(id, "test")
	require.NoError(t, err)
	assert.Equal(t, rev, proxy.Rev)
	assert.Equal(t, "deep/path", proxy.Path)
}

// failingStore proves code paths that must not read the local store.
type failingStore struct{}

func (failingStore) Open() error  { return nil }
func (failingStore) Close() error { return nil }
func (failingStore) Get(store.KeySpace, []byte) ([]byte, error) {
	panic("unexpected local store read")
}
func (failingStore) Has(store.KeySpace, []byte) (bool, error) {
	panic("unexpected local store read")
}
func (failingStore) Put(store.KeySpace, []byte, []byte) error {
	panic("unexpected local store write")
}
func (failingStore) ClearKeySpace(store.KeySpace) error   { return nil }
func (failingStore) CompactKeySpace(store.KeySpace) error { return nil }
func (failingStore) BeginWrite() store.WriteBatch         { panic("unexpected local store write") }
