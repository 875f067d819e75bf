// Package snapshot implements the Snapshot Store: materialized per-entity
// values that let reads skip replaying the full fact history from genesis.
package snapshot

import (
	"context"
	"sync"

	"github.com/mattsp1290/memoryv2/pkg/blob"
	"github.com/mattsp1290/memoryv2/pkg/fact"
	"github.com/mattsp1290/memoryv2/pkg/ref"
)

// Snapshot is a materialized value for an entity at a specific version.
// Value resolves through a Blob Store via ValueRef.
type Snapshot struct {
	ID       string
	Version  int64
	Branch   fact.BranchID
	Value    interface{}
	ValueRef ref.Reference
}

// Store is the Snapshot Store contract.
type Store interface {
	LatestAtOrBefore(ctx context.Context, branch fact.BranchID, id string, version int64) (*Snapshot, bool, error)
	Put(ctx context.Context, s Snapshot) error
	Delete(ctx context.Context, branch fact.BranchID, id string, version int64) error
}

type key struct {
	branch fact.BranchID
	id     string
}

// MemStore is the in-memory reference Store. Snapshots for one (branch, id)
// are kept in insertion order; LatestAtOrBefore scans all of them linearly.
type MemStore struct {
	blobs blob.Store

	mu   sync.RWMutex
	data map[key][]Snapshot
}

// NewMemStore constructs an empty Snapshot Store that persists snapshot
// values as blobs via blobs.
func NewMemStore(blobs blob.Store) *MemStore {
	return &MemStore{blobs: blobs, data: make(map[key][]Snapshot)}
}

// LatestAtOrBefore returns the most recent snapshot for (branch, id) whose
// version is <= version, or (nil, false, nil) if none exists.
func (m *MemStore) LatestAtOrBefore(ctx context.Context, branch fact.BranchID, id string, version int64) (*Snapshot, bool, error) {
	m.mu.RLock()
	snaps := m.data[key{branch, id}]
	m.mu.RUnlock()

	var best *Snapshot
	for i := range snaps {
		s := snaps[i]
		if s.Version <= version && (best == nil || s.Version > best.Version) {
			cp := s
			best = &cp
		}
	}
	if best == nil {
		return nil, false, nil
	}
	if best.Value == nil {
		var v interface{}
		if err := blob.GetJSON(ctx, m.blobs, best.ValueRef, &v); err != nil {
			return nil, false, err
		}
		best.Value = v
	}
	return best, true, nil
}

// Put persists a snapshot, storing its value as a blob if ValueRef is not
// already populated.
func (m *MemStore) Put(ctx context.Context, s Snapshot) error {
	if s.ValueRef == "" {
		r, err := blob.PutJSON(ctx, m.blobs, s.Value)
		if err != nil {
			return err
		}
		s.ValueRef = r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{s.Branch, s.ID}
	m.data[k] = append(m.data[k], s)
	return nil
}

// Delete removes the snapshot at exactly (branch, id, version), if present.
func (m *MemStore) Delete(ctx context.Context, branch fact.BranchID, id string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{branch, id}
	snaps := m.data[k]
	for i, s := range snaps {
		if s.Version == version {
			m.data[k] = append(snaps[:i], snaps[i+1:]...)
			return nil
		}
	}
	return nil
}

var _ Store = (*MemStore)(nil)
