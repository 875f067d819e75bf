package snapshot

import (
	"context"
	"testing"

	"github.com/mattsp1290/memoryv2/pkg/blob"
	"github.com/mattsp1290/memoryv2/pkg/fact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestAtOrBeforePicksHighestNotExceeding(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemStore()
	s := NewMemStore(blobs)

	require.NoError(t, s.Put(ctx, Snapshot{ID: "e1", Branch: "main", Version: 5, Value: map[string]interface{}{"v": "five"}}))
	require.NoError(t, s.Put(ctx, Snapshot{ID: "e1", Branch: "main", Version: 11, Value: map[string]interface{}{"v": "eleven"}}))

	got, ok, err := s.LatestAtOrBefore(ctx, "main", "e1", 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, map[string]interface{}{"v": "five"}, got.Value)
}

func TestLatestAtOrBeforeNoneExists(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemStore()
	s := NewMemStore(blobs)

	_, ok, err := s.LatestAtOrBefore(ctx, "main", "missing", 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutPersistsValueAsBlob(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemStore()
	s := NewMemStore(blobs)

	require.NoError(t, s.Put(ctx, Snapshot{ID: "e1", Branch: "main", Version: 1, Value: map[string]interface{}{"n": float64(1)}}))

	got, ok, err := s.LatestAtOrBefore(ctx, "main", "e1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, got.ValueRef)
}

func TestDeleteRemovesExactVersion(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemStore()
	s := NewMemStore(blobs)
	require.NoError(t, s.Put(ctx, Snapshot{ID: "e1", Branch: "main", Version: 1, Value: 1}))

	require.NoError(t, s.Delete(ctx, "main", "e1", 1))

	_, ok, err := s.LatestAtOrBefore(ctx, "main", "e1", 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotsAreScopedByBranch(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemStore()
	s := NewMemStore(blobs)
	require.NoError(t, s.Put(ctx, Snapshot{ID: "e1", Branch: fact.BranchID("main"), Version: 1, Value: 1}))

	_, ok, err := s.LatestAtOrBefore(ctx, "other", "e1", 10)
	require.NoError(t, err)
	assert.False(t, ok)
}
