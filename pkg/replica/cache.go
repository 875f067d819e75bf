// Package replica implements the Replica Cache: a client-side mirror of
// confirmed entity state used to build commits' confirmed-reads set and to
// serve reads without round-tripping to the Space Engine.
package replica

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattsp1290/memoryv2/pkg/fact"
	"github.com/mattsp1290/memoryv2/pkg/notify"
	"github.com/mattsp1290/memoryv2/pkg/ref"
	"github.com/mattsp1290/memoryv2/pkg/space"
)

// EntityState is one entity's confirmed local state.
type EntityState struct {
	Hash    ref.Reference
	Version int64
	Value   interface{}
	Present bool
}

// Engine is the subset of *space.Engine the cache depends on.
type Engine interface {
	Commit(ctx context.Context, cc space.ClientCommit, timestamp int64) (*fact.Commit, error)
}

// Cache is the Replica Cache. It has no nursery or optimistic tier: commits
// are synchronous end to end, and a conflict leaves localState untouched.
type Cache struct {
	branch fact.BranchID
	engine Engine
	bus    *notify.Bus

	mu    sync.Mutex
	plain map[string]EntityState
	lru   *lru.Cache[string, EntityState]
}

// NewCache constructs a Cache. bus may be nil to suppress notifications.
// maxEntries <= 0 means unbounded; otherwise the cache evicts least
// recently used entries once full — eviction only costs a future reader an
// extra round trip through the engine, it never loses committed data.
func NewCache(engine Engine, bus *notify.Bus, branch fact.BranchID, maxEntries int) (*Cache, error) {
	c := &Cache{engine: engine, bus: bus, branch: branch}
	if maxEntries > 0 {
		l, err := lru.New[string, EntityState](maxEntries)
		if err != nil {
			return nil, err
		}
		c.lru = l
	} else {
		c.plain = make(map[string]EntityState)
	}
	return c, nil
}

func (c *Cache) get(id string) (EntityState, bool) {
	if c.lru != nil {
		return c.lru.Get(id)
	}
	s, ok := c.plain[id]
	return s, ok
}

func (c *Cache) set(id string, s EntityState) {
	if c.lru != nil {
		c.lru.Add(id, s)
		return
	}
	c.plain[id] = s
}

// Get returns id's confirmed local state, if known.
func (c *Cache) Get(id string) (EntityState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(id)
}

// Commit builds a ClientCommit whose confirmed reads are localState's entry
// for every entity the operations touch plus any extraReads the caller
// declares as read-dependencies, submits it to the engine, and — on
// success — updates localState and fires a single commit notification. On
// conflict the engine's error is returned unchanged and localState is not
// touched.
func (c *Cache) Commit(ctx context.Context, ops []space.UserOperation, timestamp int64, extraReads ...string) (*fact.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make(map[string]struct{}, len(ops)+len(extraReads))
	for _, op := range ops {
		ids[op.ID] = struct{}{}
	}
	for _, id := range extraReads {
		ids[id] = struct{}{}
	}

	confirmed := make([]space.ReadEntry, 0, len(ids))
	for id := range ids {
		if s, ok := c.get(id); ok {
			confirmed = append(confirmed, space.ReadEntry{ID: id, Hash: s.Hash, Version: s.Version})
		}
	}

	commit, err := c.engine.Commit(ctx, space.ClientCommit{
		Branch:     c.branch,
		Reads:      space.Reads{Confirmed: confirmed},
		Operations: ops,
	}, timestamp)
	if err != nil {
		return nil, err
	}

	changes := make([]notify.Change, 0, len(commit.Facts))
	for _, sf := range commit.Facts {
		state, err := c.applyFact(sf)
		if err != nil {
			return nil, err
		}
		c.set(sf.Fact.ID, state)
		changes = append(changes, notify.Change{ID: sf.Fact.ID, NewHash: sf.Hash})
	}

	if c.bus != nil {
		c.bus.Publish(notify.Event{
			Kind:       notify.KindCommit,
			Branch:     c.branch,
			CommitHash: commit.Hash,
			Version:    commit.Version,
			Changes:    changes,
		})
	}
	return commit, nil
}

// Integrate applies an externally authored commit's facts to localState and
// fires an integrate notification.
func (c *Cache) Integrate(commit *fact.Commit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := make([]notify.Change, 0, len(commit.Facts))
	for _, sf := range commit.Facts {
		state, err := c.applyFact(sf)
		if err != nil {
			return err
		}
		c.set(sf.Fact.ID, state)
		changes = append(changes, notify.Change{ID: sf.Fact.ID, NewHash: sf.Hash})
	}

	if c.bus != nil {
		c.bus.Publish(notify.Event{
			Kind:       notify.KindIntegrate,
			Branch:     c.branch,
			CommitHash: commit.Hash,
			Version:    commit.Version,
			Changes:    changes,
		})
	}
	return nil
}

// applyFact computes the new EntityState a fact produces, chaining from the
// cache's current value for Patch facts.
func (c *Cache) applyFact(sf fact.StoredFact) (EntityState, error) {
	switch sf.Fact.Kind {
	case fact.KindSet:
		return EntityState{Hash: sf.Hash, Version: sf.Version, Value: sf.Fact.Value, Present: true}, nil
	case fact.KindDelete:
		return EntityState{Hash: sf.Hash, Version: sf.Version, Present: false}, nil
	case fact.KindPatch:
		prev, _ := c.get(sf.Fact.ID)
		applied, err := sf.Fact.Ops.Apply(prev.Value)
		if err != nil {
			return EntityState{}, err
		}
		return EntityState{Hash: sf.Hash, Version: sf.Version, Value: applied, Present: true}, nil
	default:
		return EntityState{}, fmt.Errorf("unknown fact kind %q", sf.Fact.Kind)
	}
}
