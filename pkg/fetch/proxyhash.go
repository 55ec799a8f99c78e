package fetch

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arborfs/arbor/pkg/model"
	"github.com/arborfs/arbor/pkg/store"
)

// proxyHashService resolves object ids to proxy hashes. Embedded ids
// decode with no I/O; legacy indirect ids cost one local store read.
// Writes happen only at ingest time.
type proxyHashService struct {
	local store.Store
	l     *zap.Logger

	logInterval time.Duration
	lastLogged  int64 // unix nanos, atomically swapped
}

func newProxyHashService(local store.Store, l *zap.Logger, logInterval time.Duration) *proxyHashService {
	return &proxyHashService{
		local:       local,
		l:           l,
		logInterval: logInterval,
	}
}

// Load resolves an object id to its proxy hash. callerTag names the
// operation for the throttled failure log.
func (s *proxyHashService) Load(id model.ObjectID, callerTag string) (model.ProxyHash, error) {
	if proxy, ok := model.ProxyHashFromObjectID(id); ok {
		return proxy, nil
	}
	if !id.IsIndirect() {
		s.logMissing(id, callerTag, nil)
		return model.ProxyHash{}, fmt.Errorf("%s: object id %x: %w", callerTag, id.Bytes(), ErrMissingProxyHash)
	}

	value, err := s.local.Get(store.HgProxyHash, id.IndirectKey())
	if err != nil {
		s.logMissing(id, callerTag, err)
		if errors.Is(err, store.ErrKeyNotFound) {
			return model.ProxyHash{}, fmt.Errorf("%s: object id %v: %w", callerTag, id, ErrMissingProxyHash)
		}
		return model.ProxyHash{}, fmt.Errorf("%s: object id %v: %w", callerTag, id, err)
	}
	proxy, err := model.ParseProxyHash(value)
	if err != nil {
		return model.ProxyHash{}, fmt.Errorf("%s: object id %v: %w", callerTag, id, err)
	}
	return proxy, nil
}

// LoadBatch amortizes lookups for a list of ids, failing on the first
// unresolvable one
func (s *proxyHashService) LoadBatch(ids []model.ObjectID, callerTag string) ([]model.ProxyHash, error) {
	out := make([]model.ProxyHash, 0, len(ids))
	for _, id := range ids {
		proxy, err := s.Load(id, callerTag)
		if err != nil {
			return nil, err
		}
		out = append(out, proxy)
	}
	return out, nil
}

// Store encodes a (path, revision) pair as an object id. The embedded
// formats need no I/O; the indirect format writes a proxy-hash row and
// returns its key.
func (s *proxyHashService) Store(path string, rev model.Hash20, format model.IDFormat) (model.ObjectID, error) {
	proxy := model.ProxyHash{Rev: rev, Path: path}
	switch format {
	case model.FormatEmbeddedWithPath:
		return proxy.Embed(), nil
	case model.FormatEmbeddedHashOnly:
		return proxy.EmbedHashOnly(), nil
	case model.FormatIndirect:
		rowKey := proxy.RowKey()
		if err := s.local.Put(store.HgProxyHash, rowKey[:], proxy.Bytes()); err != nil {
			return model.ObjectID{}, fmt.Errorf("store proxy hash for %q: %w", path, err)
		}
		return model.IndirectObjectID(rowKey), nil
	default:
		return model.ObjectID{}, fmt.Errorf("unknown object id format %d", format)
	}
}

// logMissing logs at most once per interval so that mass lookup
// failures do not flood the log
func (s *proxyHashService) logMissing(id model.ObjectID, callerTag string, cause error) {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&s.lastLogged)
	if now-last < int64(s.logInterval) {
		return
	}
	if !atomic.CompareAndSwapInt64(&s.lastLogged, last, now) {
		return
	}
	s.l.Warn("missing proxy hash",
		zap.String("objectID", fmt.Sprintf("%x", id.Bytes())),
		zap.String("caller", callerTag),
		zap.Error(cause),
	)
}
