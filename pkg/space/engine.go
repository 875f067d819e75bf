// Package space implements the Space Engine: the transactional core that
// validates a client's confirmed reads against the current head, resolves
// and appends facts, and materializes snapshots according to policy. A
// Space is a single-writer namespace over one Fact Log, Blob Store, and
// Snapshot Store.
package space

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mattsp1290/memoryv2/pkg/blob"
	"github.com/mattsp1290/memoryv2/pkg/fact"
	"github.com/mattsp1290/memoryv2/pkg/merrors"
	"github.com/mattsp1290/memoryv2/pkg/mlog"
	"github.com/mattsp1290/memoryv2/pkg/patch"
	"github.com/mattsp1290/memoryv2/pkg/ref"
	"github.com/mattsp1290/memoryv2/pkg/snapshot"
)

// Config holds the tunables enumerated for a space.
type Config struct {
	SnapshotInterval int
	DefaultBranch    fact.BranchID
	MaxPatchOps      int
	MaxValueBytes    int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: 10,
		DefaultBranch:    "main",
		MaxPatchOps:      0, // 0 means unbounded
		MaxValueBytes:    0, // 0 means unbounded
	}
}

// ReadEntry is one entry in ClientCommit.Reads.Confirmed.
type ReadEntry struct {
	ID      string        `json:"id"`
	Hash    ref.Reference `json:"hash"`
	Version int64         `json:"version"`
}

// PendingRead is reserved for a remote provider; the core does not act on
// it beyond carrying it through the wire type.
type PendingRead struct {
	ID              string        `json:"id"`
	DependsOnCommit ref.Reference `json:"dependsOnCommit"`
}

// Reads is the ClientCommit.reads envelope.
type Reads struct {
	Confirmed []ReadEntry   `json:"confirmed"`
	Pending   []PendingRead `json:"pending"`
}

// UserOperation is one client-supplied mutation. It never carries a parent
// reference — the engine resolves that from its own head.
type UserOperation struct {
	Op    string        `json:"op"` // "set" | "patch" | "delete"
	ID    string        `json:"id"`
	Value interface{}   `json:"value,omitempty"`
	Ops   patch.Patch   `json:"ops,omitempty"`
}

const (
	opSet    = "set"
	opPatch  = "patch"
	opDelete = "delete"
)

// ClientCommit is the wire input to Commit.
type ClientCommit struct {
	Branch     fact.BranchID   `json:"branch"`
	Reads      Reads           `json:"reads"`
	Operations []UserOperation `json:"operations"`
}

// Engine is the Space Engine: one per space, composing a Fact Log, Blob
// Store, and Snapshot Store under a single exclusive write lock.
type Engine struct {
	log       fact.Log
	blobs     blob.Store
	snapshots snapshot.Store
	config    Config
	logger    mlog.Logger

	mu       sync.Mutex // the per-space exclusive lock around validate-and-append
	counters map[entityKey]int
}

type entityKey struct {
	branch fact.BranchID
	id     string
}

// NewEngine constructs a Space Engine. logger may be nil, in which case a
// no-op logger is used.
func NewEngine(log fact.Log, blobs blob.Store, snapshots snapshot.Store, config Config, logger mlog.Logger) *Engine {
	if logger == nil {
		logger = mlog.NopLogger{}
	}
	return &Engine{
		log:       log,
		blobs:     blobs,
		snapshots: snapshots,
		config:    config,
		logger:    logger,
		counters:  make(map[entityKey]int),
	}
}

type entityState struct {
	value   interface{}
	present bool
}

// Commit runs the transaction protocol: validate confirmed reads, resolve
// and build facts (verifying patches apply cleanly along the way), append
// them atomically, and materialize snapshots per policy.
func (e *Engine) Commit(ctx context.Context, cc ClientCommit, timestamp int64) (*fact.Commit, error) {
	branch := cc.Branch
	if branch == "" {
		branch = e.config.DefaultBranch
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateConfirmedReads(ctx, branch, cc.Reads.Confirmed); err != nil {
		return nil, err
	}

	localHead := make(map[string]*fact.StoredFact)
	localState := make(map[string]*entityState)

	facts := make([]fact.Fact, 0, len(cc.Operations))
	touched := make([]string, 0, len(cc.Operations))

	for i, op := range cc.Operations {
		head, err := e.headFor(ctx, branch, op.ID, localHead)
		if err != nil {
			return nil, err
		}
		parent, err := parentOf(op.ID, head)
		if err != nil {
			return nil, err
		}

		state, err := e.stateFor(ctx, branch, op.ID, head, localState)
		if err != nil {
			return nil, err
		}

		f, nextState, err := e.buildFact(i, op, parent, state)
		if err != nil {
			return nil, err
		}
		if err := e.checkLimits(i, f); err != nil {
			return nil, err
		}

		fh, err := f.Hash()
		if err != nil {
			return nil, err
		}

		facts = append(facts, f)
		localHead[op.ID] = &fact.StoredFact{Fact: f, Hash: fh}
		localState[op.ID] = nextState
		touched = append(touched, op.ID)
	}

	commit, err := e.log.AppendCommit(ctx, branch, facts, timestamp)
	if err != nil {
		return nil, err
	}

	e.materializeSnapshots(ctx, branch, commit, touched, localState)

	return commit, nil
}

// validateConfirmedReads checks every ReadEntry against the current head,
// collecting every mismatch instead of stopping at the first one.
func (e *Engine) validateConfirmedReads(ctx context.Context, branch fact.BranchID, confirmed []ReadEntry) error {
	var conflicts []*merrors.Error
	for _, r := range confirmed {
		head, ok, err := e.log.HeadOf(ctx, branch, r.ID)
		if err != nil {
			return err
		}

		var actual ref.Reference
		if ok {
			actual = head.Hash
		} else {
			actual, err = ref.Empty(r.ID)
			if err != nil {
				return err
			}
		}

		if actual != r.Hash {
			conflicts = append(conflicts, merrors.Conflict(r.ID, string(r.Hash), string(actual)))
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	return &merrors.ConflictSet{Conflicts: conflicts}
}

// headFor resolves op.ID's head, preferring a fact already built earlier in
// this same commit over the persisted log.
func (e *Engine) headFor(ctx context.Context, branch fact.BranchID, id string, localHead map[string]*fact.StoredFact) (*fact.StoredFact, error) {
	if h, ok := localHead[id]; ok {
		return h, nil
	}
	h, ok, err := e.log.HeadOf(ctx, branch, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return h, nil
}

func parentOf(id string, head *fact.StoredFact) (ref.Reference, error) {
	if head != nil {
		return head.Hash, nil
	}
	return ref.Empty(id)
}

// stateFor resolves the materialized value op.ID currently has, preferring
// a value already computed earlier in this commit over a fresh read.
func (e *Engine) stateFor(ctx context.Context, branch fact.BranchID, id string, head *fact.StoredFact, localState map[string]*entityState) (*entityState, error) {
	if s, ok := localState[id]; ok {
		return s, nil
	}
	if head == nil {
		return &entityState{present: false}, nil
	}
	value, present, err := e.readAt(ctx, branch, id, head)
	if err != nil {
		return nil, err
	}
	return &entityState{value: value, present: present}, nil
}

// buildFact constructs the Fact for one operation, validating tombstone
// rules and — for patch — that the patch applies cleanly against the
// entity's current materialized value.
func (e *Engine) buildFact(index int, op UserOperation, parent ref.Reference, state *entityState) (fact.Fact, *entityState, error) {
	switch op.Op {
	case opSet:
		return fact.Fact{Kind: fact.KindSet, ID: op.ID, Value: op.Value, Parent: parent},
			&entityState{value: op.Value, present: true}, nil

	case opDelete:
		if !state.present {
			return fact.Fact{}, nil, merrors.TombstoneMisuse(op.ID, "delete of an empty or already-deleted entity")
		}
		return fact.Fact{Kind: fact.KindDelete, ID: op.ID, Parent: parent},
			&entityState{present: false}, nil

	case opPatch:
		if !state.present {
			return fact.Fact{}, nil, merrors.TombstoneMisuse(op.ID, "patch of an empty or deleted entity")
		}
		applied, err := op.Ops.Apply(state.value)
		if err != nil {
			return fact.Fact{}, nil, err
		}
		return fact.Fact{Kind: fact.KindPatch, ID: op.ID, Ops: op.Ops, Parent: parent},
			&entityState{value: applied, present: true}, nil

	default:
		return fact.Fact{}, nil, merrors.InvalidPatch(index, "unknown operation \""+op.Op+"\"")
	}
}

func (e *Engine) checkLimits(index int, f fact.Fact) error {
	if e.config.MaxPatchOps > 0 && f.Kind == fact.KindPatch && len(f.Ops) > e.config.MaxPatchOps {
		return merrors.InvalidPatch(index, "patch exceeds the maximum allowed operations per fact")
	}
	if e.config.MaxValueBytes > 0 {
		var payload interface{}
		switch f.Kind {
		case fact.KindSet:
			payload = f.Value
		case fact.KindPatch:
			payload = f.Ops
		default:
			return nil
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if len(data) > e.config.MaxValueBytes {
			return merrors.InvalidPatch(index, "payload exceeds the maximum allowed size")
		}
	}
	return nil
}

// materializeSnapshots applies the snapshot policy to every entity touched
// by commit: a SetWrite resets the patch counter; a Patch increments it and
// triggers materialization once it reaches SnapshotInterval; a Delete
// clears it. Failures are logged, not propagated — a missing snapshot only
// costs a future reader a longer replay, it never loses data.
func (e *Engine) materializeSnapshots(ctx context.Context, branch fact.BranchID, commit *fact.Commit, touched []string, localState map[string]*entityState) {
	if e.config.SnapshotInterval <= 0 {
		return
	}
	seen := make(map[string]bool, len(touched))
	for _, id := range touched {
		if seen[id] {
			continue
		}
		seen[id] = true

		k := entityKey{branch, id}
		kind := lastKindFor(commit, id)
		switch kind {
		case fact.KindSet:
			e.counters[k] = 0
		case fact.KindDelete:
			e.counters[k] = 0
			continue
		case fact.KindPatch:
			e.counters[k]++
		}

		if e.counters[k] < e.config.SnapshotInterval {
			continue
		}

		state := localState[id]
		if state == nil || !state.present {
			continue
		}
		err := e.snapshots.Put(ctx, snapshot.Snapshot{
			ID:      id,
			Branch:  branch,
			Version: commit.Version,
			Value:   state.value,
		})
		if err != nil {
			e.logger.Error("snapshot materialization failed", mlog.String("id", id), mlog.Err(err))
			continue
		}
		e.counters[k] = 0
	}
}

func lastKindFor(commit *fact.Commit, id string) fact.Kind {
	var kind fact.Kind
	for _, sf := range commit.Facts {
		if sf.Fact.ID == id {
			kind = sf.Fact.Kind
		}
	}
	return kind
}

// Read materializes the latest value of id on branch. present is false if
// the entity has never been written or is currently tombstoned.
func (e *Engine) Read(ctx context.Context, branch fact.BranchID, id string) (interface{}, bool, error) {
	if branch == "" {
		branch = e.config.DefaultBranch
	}
	head, ok, err := e.log.HeadOf(ctx, branch, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return e.readAt(ctx, branch, id, head)
}

// ReadAtVersion materializes id's value as of the most recent fact with
// version <= version.
func (e *Engine) ReadAtVersion(ctx context.Context, branch fact.BranchID, id string, version int64) (interface{}, bool, error) {
	if branch == "" {
		branch = e.config.DefaultBranch
	}
	history, err := e.log.RangeSince(ctx, branch, id, 0)
	if err != nil {
		return nil, false, err
	}
	var head *fact.StoredFact
	for i := range history {
		if history[i].Version <= version {
			h := history[i]
			head = &h
		}
	}
	if head == nil {
		return nil, false, nil
	}
	return e.readAt(ctx, branch, id, head)
}

// readAt implements the read-path replay algorithm: seed from the latest
// snapshot at or before head.Version, then apply every fact since the seed
// up through head.Version in ascending order.
func (e *Engine) readAt(ctx context.Context, branch fact.BranchID, id string, head *fact.StoredFact) (interface{}, bool, error) {
	if head.Fact.Kind == fact.KindDelete {
		return nil, false, nil
	}

	var value interface{}
	present := false
	var seedVersion int64

	snap, ok, err := e.snapshots.LatestAtOrBefore(ctx, branch, id, head.Version)
	if err != nil {
		return nil, false, err
	}
	if ok {
		value = snap.Value
		present = true
		seedVersion = snap.Version
	}

	history, err := e.log.RangeSince(ctx, branch, id, seedVersion)
	if err != nil {
		return nil, false, err
	}
	for _, sf := range history {
		if sf.Version > head.Version {
			break
		}
		switch sf.Fact.Kind {
		case fact.KindSet:
			value = sf.Fact.Value
			present = true
		case fact.KindPatch:
			next, err := sf.Fact.Ops.Apply(value)
			if err != nil {
				return nil, false, err
			}
			value = next
		case fact.KindDelete:
			value = nil
			present = false
		}
	}
	return value, present, nil
}

// Stats reports introspection counters for tests and operators.
func (e *Engine) Stats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.counters))
	for k, v := range e.counters {
		out[string(k.branch)+"/"+k.id] = v
	}
	return out
}
