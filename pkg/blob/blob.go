// Package blob implements a content-addressed binary blob store: put, get,
// has, keyed by the canonical reference of the bytes. Put is idempotent —
// writing identical bytes twice returns the same reference and stores
// nothing twice.
package blob

import (
	"context"
	"sync"

	"github.com/mattsp1290/memoryv2/pkg/merrors"
	"github.com/mattsp1290/memoryv2/pkg/ref"
)

// Blob is an immutable content-addressed byte payload.
type Blob struct {
	Hash        ref.Reference
	Data        []byte
	ContentType string
	Size        int
}

// Store is the interface blob consumers depend on; alternate backends can
// be swapped in without touching callers.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (ref.Reference, error)
	Get(ctx context.Context, r ref.Reference) (*Blob, error)
	Has(ctx context.Context, r ref.Reference) (bool, error)
}

const shardCount = 16

// MemStore is the in-memory reference Store, sharded across fixed buckets
// with independent locks for low lock contention instead of one global
// mutex.
type MemStore struct {
	shards [shardCount]*shard
}

type shard struct {
	mu   sync.RWMutex
	data map[ref.Reference]*Blob
}

// NewMemStore constructs an empty in-memory blob store.
func NewMemStore() *MemStore {
	m := &MemStore{}
	for i := range m.shards {
		m.shards[i] = &shard{data: make(map[ref.Reference]*Blob)}
	}
	return m
}

func (m *MemStore) shardFor(r ref.Reference) *shard {
	var h uint32
	for i := 0; i < len(r); i++ {
		h = h*31 + uint32(r[i])
	}
	return m.shards[h%shardCount]
}

// Put stores data under its content hash, returning the same reference for
// identical bytes without allocating a second copy.
func (m *MemStore) Put(ctx context.Context, data []byte, contentType string) (ref.Reference, error) {
	r, err := ref.HashBytes(data)
	if err != nil {
		return "", err
	}
	s := m.shardFor(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data[r]; ok {
		return existing.Hash, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[r] = &Blob{Hash: r, Data: cp, ContentType: contentType, Size: len(cp)}
	return r, nil
}

// Get retrieves a blob by reference, returning a NotFound merrors.Error if
// it is absent.
func (m *MemStore) Get(ctx context.Context, r ref.Reference) (*Blob, error) {
	s := m.shardFor(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[r]
	if !ok {
		return nil, merrors.NotFound("blob " + string(r))
	}
	out := *b
	out.Data = append([]byte(nil), b.Data...)
	return &out, nil
}

// Has reports whether a blob exists without fetching its bytes.
func (m *MemStore) Has(ctx context.Context, r ref.Reference) (bool, error) {
	s := m.shardFor(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[r]
	return ok, nil
}

var _ Store = (*MemStore)(nil)
