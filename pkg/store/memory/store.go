// Package memory provides the in-memory backend of the local store,
// mostly for tests and ephemeral mounts.
package memory

import (
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/arborfs/arbor/pkg/store"
)

var _ store.Store = &memStore{}

// Option configures the in-memory store
type Option func(*memStore)

// New creates an in-memory local store. Each keyspace is held in an
// immutable radix tree: readers walk a snapshot while the single writer
// commits new roots under the store lock.
func New(opts ...Option) store.Store {
	s := &memStore{}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

type memStore struct {
	mu     sync.RWMutex
	trees  map[store.KeySpace]*iradix.Tree
	opened bool

	// flushHook intercepts each put of a batch flush, used by tests to
	// simulate mid-flush failures
	flushHook func(ks store.KeySpace, key []byte) error
}

func (s *memStore) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	s.trees = make(map[store.KeySpace]*iradix.Tree, len(store.KeySpaces()))
	for _, ks := range store.KeySpaces() {
		s.trees[ks] = iradix.New()
	}
	s.opened = true
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees = nil
	s.opened = false
	return nil
}

func (s *memStore) snapshot(ks store.KeySpace) (*iradix.Tree, error) {
	if !ks.Valid() {
		return nil, fmt.Errorf("keyspace %d: %w", ks, store.ErrUnknownKeySpace)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.opened {
		return nil, store.ErrStoreClosed
	}
	return s.trees[ks], nil
}

func (s *memStore) Get(ks store.KeySpace, key []byte) ([]byte, error) {
	t, err := s.snapshot(ks)
	if err != nil {
		return nil, err
	}
	v, ok := t.Get(key)
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	value := v.([]byte)
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *memStore) Has(ks store.KeySpace, key []byte) (bool, error) {
	t, err := s.snapshot(ks)
	if err != nil {
		return false, err
	}
	_, ok := t.Get(key)
	return ok, nil
}

func (s *memStore) Put(ks store.KeySpace, key, value []byte) error {
	if !ks.Valid() {
		return fmt.Errorf("keyspace %d: %w", ks, store.ErrUnknownKeySpace)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return store.ErrStoreClosed
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.trees[ks], _, _ = s.trees[ks].Insert(key, stored)
	return nil
}

func (s *memStore) ClearKeySpace(ks store.KeySpace) error {
	if !ks.Valid() {
		return fmt.Errorf("keyspace %d: %w", ks, store.ErrUnknownKeySpace)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return store.ErrStoreClosed
	}
	s.trees[ks] = iradix.New()
	return nil
}

func (s *memStore) CompactKeySpace(ks store.KeySpace) error {
	if !ks.Valid() {
		return fmt.Errorf("keyspace %d: %w", ks, store.ErrUnknownKeySpace)
	}
	return nil
}

func (s *memStore) BeginWrite() store.WriteBatch {
	return &memBatch{owner: s}
}

type batchEntry struct {
	ks    store.KeySpace
	key   []byte
	value []byte
}

type memBatch struct {
	owner   *memStore
	entries []batchEntry
}

func (b *memBatch) Put(ks store.KeySpace, key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.entries = append(b.entries, batchEntry{ks: ks, key: k, value: v})
}

// Flush replays the accumulated puts into fresh radix transactions under
// the store lock. New roots are only published once every put succeeded,
// so a failed flush leaves no partial keys visible.
func (b *memBatch) Flush() error {
	s := b.owner
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return store.ErrStoreClosed
	}

	staged := make(map[store.KeySpace]*iradix.Txn)
	for _, e := range b.entries {
		if !e.ks.Valid() {
			return fmt.Errorf("keyspace %d: %w", e.ks, store.ErrUnknownKeySpace)
		}
		if s.flushHook != nil {
			if err := s.flushHook(e.ks, e.key); err != nil {
				return err
			}
		}
		txn, ok := staged[e.ks]
		if !ok {
			txn = s.trees[e.ks].Txn()
			staged[e.ks] = txn
		}
		txn.Insert(e.key, e.value)
	}
	for ks, txn := range staged {
		s.trees[ks] = txn.Commit()
	}
	b.entries = nil
	return nil
}
