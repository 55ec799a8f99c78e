// Package badgerdb provides the on-disk backend of the local store,
// built on dgraph-io/badger. All keyspaces share one database and are
// isolated by key prefixes.
package badgerdb

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	badgeroptions "github.com/dgraph-io/badger/v3/options"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/pkg/store"
)

var _ store.Store = &badgerStore{}

// Option configures the on-disk store
type Option func(*badgerStore)

// WithLogger sets a logger for store events
func WithLogger(l *zap.Logger) Option {
	return func(s *badgerStore) {
		if l != nil {
			s.l = l
		}
	}
}

// WithIndexCacheSize overrides the badger index cache size in bytes
func WithIndexCacheSize(size int64) Option {
	return func(s *badgerStore) {
		s.indexCacheSize = size
	}
}

// WithSyncWrites makes every commit durable before it returns
func WithSyncWrites(sync bool) Option {
	return func(s *badgerStore) {
		s.syncWrites = sync
	}
}

// New creates an on-disk local store rooted at baseDir
func New(baseDir string, opts ...Option) store.Store {
	s := &badgerStore{
		baseDir:        baseDir,
		l:              zap.NewNop(),
		indexCacheSize: 200 << 20,
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

type badgerStore struct {
	baseDir        string
	l              *zap.Logger
	indexCacheSize int64
	syncWrites     bool

	db    *badger.DB
	init  sync.Once
	close sync.Once
}

func (s *badgerStore) Open() error {
	var err error
	s.init.Do(func() {
		if err = os.MkdirAll(s.baseDir, 0700); err != nil {
			err = fmt.Errorf("open local store: mkdir: %w", err)
			return
		}
		var db *badger.DB
		db, err = badger.Open(
			badger.DefaultOptions(s.baseDir).
				WithLoggingLevel(badger.WARNING).
				WithSyncWrites(s.syncWrites).
				WithIndexCacheSize(s.indexCacheSize).
				// keys are mostly random hashes, compression is futile
				WithCompression(badgeroptions.None),
		)
		if err != nil {
			err = fmt.Errorf("open local store: %w", err)
			return
		}
		s.db = db
		s.l.Info("local store opened", zap.String("dir", s.baseDir))
	})
	return err
}

func (s *badgerStore) Close() error {
	var err error
	s.close.Do(func() {
		if s.db != nil {
			err = s.db.Close()
			if err == nil {
				s.db = nil
			}
		}
	})
	return err
}

func prefixed(ks store.KeySpace, key []byte) []byte {
	return append(ks.Prefix(), key...)
}

func (s *badgerStore) ready(ks store.KeySpace) error {
	if !ks.Valid() {
		return fmt.Errorf("keyspace %d: %w", ks, store.ErrUnknownKeySpace)
	}
	if s.db == nil {
		return store.ErrStoreClosed
	}
	return nil
}

func (s *badgerStore) Get(ks store.KeySpace, key []byte) ([]byte, error) {
	if err := s.ready(ks); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get(prefixed(ks, key))
		if e != nil {
			return e
		}
		value, e = item.ValueCopy(nil)
		return e
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, store.ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *badgerStore) Has(ks store.KeySpace, key []byte) (bool, error) {
	if err := s.ready(ks); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, e := txn.Get(prefixed(ks, key))
		return e
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *badgerStore) Put(ks store.KeySpace, key, value []byte) error {
	if err := s.ready(ks); err != nil {
		return err
	}
	return backoff.Retry(func() error {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(prefixed(ks, key), value)
		})
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	},
		backoff.NewConstantBackOff(10*time.Millisecond),
	)
}

func (s *badgerStore) ClearKeySpace(ks store.KeySpace) error {
	if err := s.ready(ks); err != nil {
		return err
	}
	return s.db.DropPrefix(ks.Prefix())
}

// CompactKeySpace flattens the LSM tree. Badger compacts the whole
// database, not a single prefix, so the keyspace argument only gates
// validity.
func (s *badgerStore) CompactKeySpace(ks store.KeySpace) error {
	if err := s.ready(ks); err != nil {
		return err
	}
	return s.db.Flatten(4)
}

func (s *badgerStore) BeginWrite() store.WriteBatch {
	return &badgerBatch{owner: s}
}

type batchEntry struct {
	ks    store.KeySpace
	key   []byte
	value []byte
}

type badgerBatch struct {
	owner   *badgerStore
	entries []batchEntry
}

func (b *badgerBatch) Put(ks store.KeySpace, key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.entries = append(b.entries, batchEntry{ks: ks, key: k, value: v})
}

// Flush applies the batch in one badger transaction. Any error discards
// the transaction, leaving no partial keys behind.
func (b *badgerBatch) Flush() error {
	s := b.owner
	if s.db == nil {
		return store.ErrStoreClosed
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	for _, e := range b.entries {
		if !e.ks.Valid() {
			return fmt.Errorf("keyspace %d: %w", e.ks, store.ErrUnknownKeySpace)
		}
		if err := txn.Set(prefixed(e.ks, e.key), e.value); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	b.entries = nil
	return nil
}
