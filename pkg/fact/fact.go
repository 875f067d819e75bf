// Package fact implements the append-only Fact Log: the table of
// StoredFacts indexed by hash, by (branch, id, version desc) for heads, and
// by (branch, version asc) for replication, plus the invariant checks that
// AppendCommit enforces before admitting a commit.
package fact

import (
	"context"
	"sync"

	"github.com/mattsp1290/memoryv2/pkg/blob"
	"github.com/mattsp1290/memoryv2/pkg/merrors"
	"github.com/mattsp1290/memoryv2/pkg/patch"
	"github.com/mattsp1290/memoryv2/pkg/ref"
)

// Kind discriminates the three Fact variants. Facts are a tagged union
// keyed by a string discriminant rather than an interface hierarchy.
type Kind string

const (
	KindSet    Kind = "set"
	KindPatch  Kind = "patch"
	KindDelete Kind = "delete"
)

// Fact is the immutable logical content of one state transition. Only one
// of Value/Ops is populated, depending on Kind.
type Fact struct {
	Kind   Kind
	ID     string
	Value  interface{}  // populated when Kind == KindSet
	Ops    patch.Patch  // populated when Kind == KindPatch
	Parent ref.Reference
}

// canonicalForm returns the map whose canonical hash is this fact's
// identity: discriminant, id, payload, and parent.
func (f Fact) canonicalForm() map[string]interface{} {
	m := map[string]interface{}{
		"kind":   string(f.Kind),
		"id":     f.ID,
		"parent": string(f.Parent),
	}
	switch f.Kind {
	case KindSet:
		m["value"] = f.Value
	case KindPatch:
		m["ops"] = f.Ops
	}
	return m
}

// Hash computes the canonical reference of a fact's logical content. Two
// facts with identical kind/id/payload/parent hash identically.
func (f Fact) Hash() (ref.Reference, error) {
	return ref.Hash(f.canonicalForm())
}

// StoredFact is a Fact plus the metadata assigned at commit time.
type StoredFact struct {
	Fact       Fact
	Hash       ref.Reference
	Version    int64
	CommitHash ref.Reference
	PayloadRef ref.Reference // blob holding Value/Ops, per the logical fact table's payload_ref column
}

// Commit groups the StoredFacts written atomically in one transaction; all
// of them share a single Version.
type Commit struct {
	Hash      ref.Reference
	Version   int64
	Facts     []StoredFact
	Timestamp int64
}

// BranchID names a linear history within a space. Only a single default
// branch is exercised today, but the identifier is carried end to end.
type BranchID string

// Log is the Fact Log contract.
type Log interface {
	HeadOf(ctx context.Context, branch BranchID, id string) (*StoredFact, bool, error)
	AppendCommit(ctx context.Context, branch BranchID, facts []Fact, timestamp int64) (*Commit, error)
	RangeSince(ctx context.Context, branch BranchID, id string, versionExclusive int64) ([]StoredFact, error)
	FactByHash(ctx context.Context, h ref.Reference) (*StoredFact, bool, error)
}

// MemLog is the in-memory reference Fact Log. A single space-wide mutex
// serializes AppendCommit, matching a single-writer-per-space model; reads
// take an RWMutex so concurrent readers never observe a partial commit.
type MemLog struct {
	blobs blob.Store

	mu sync.RWMutex // guards everything below; write path also holds writeMu

	writeMu sync.Mutex // serializes AppendCommit end to end

	byHash map[ref.Reference]*StoredFact
	// heads[branch][id] is the most recent (by version) StoredFact for id,
	// including Delete tombstones — a Delete still counts as the head.
	heads map[BranchID]map[string]*StoredFact
	// byEntity[branch][id] holds every StoredFact for id in ascending
	// version order, supporting RangeSince.
	byEntity map[BranchID]map[string][]*StoredFact

	lastVersion map[BranchID]int64
}

// NewMemLog constructs an empty Fact Log backed by the given Blob Store for
// payload persistence.
func NewMemLog(blobs blob.Store) *MemLog {
	return &MemLog{
		blobs:       blobs,
		byHash:      make(map[ref.Reference]*StoredFact),
		heads:       make(map[BranchID]map[string]*StoredFact),
		byEntity:    make(map[BranchID]map[string][]*StoredFact),
		lastVersion: make(map[BranchID]int64),
	}
}

// HeadOf returns the most recent (non-retired, tombstone-inclusive) fact
// for id, or (nil, false, nil) if the entity has no facts yet.
func (l *MemLog) HeadOf(ctx context.Context, branch BranchID, id string) (*StoredFact, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.heads[branch][id]
	if !ok {
		return nil, false, nil
	}
	cp := *h
	return &cp, true, nil
}

// FactByHash looks up a stored fact by its content hash.
func (l *MemLog) FactByHash(ctx context.Context, h ref.Reference) (*StoredFact, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.byHash[h]
	if !ok {
		return nil, false, nil
	}
	cp := *f
	return &cp, true, nil
}

// RangeSince returns every StoredFact for id on branch with
// version > versionExclusive, in ascending version order — the facts
// accumulated since a snapshot was taken.
func (l *MemLog) RangeSince(ctx context.Context, branch BranchID, id string, versionExclusive int64) ([]StoredFact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := l.byEntity[branch][id]
	out := make([]StoredFact, 0, len(all))
	for _, f := range all {
		if f.Version > versionExclusive {
			out = append(out, *f)
		}
	}
	return out, nil
}

// AppendCommit validates every fact against the causal-chain and
// tombstone invariants, assigns the next version, persists payloads as
// blobs, computes the commit hash, and appends all facts atomically. It is
// all-or-nothing: if any fact is invalid, nothing is written and the
// commit's version is not consumed.
func (l *MemLog) AppendCommit(ctx context.Context, branch BranchID, facts []Fact, timestamp int64) (*Commit, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	nextVersion := l.lastVersion[branch] + 1
	// inProgressHeads lets multiple facts touching the same entity within
	// one commit chain correctly: later operations in the same commit
	// resolve their parent against facts already built earlier in this
	// same commit, not just the log's prior head.
	inProgressHeads := make(map[string]*StoredFact, len(facts))
	for _, f := range facts {
		if h, ok := l.heads[branch][f.ID]; ok {
			if _, seen := inProgressHeads[f.ID]; !seen {
				inProgressHeads[f.ID] = h
			}
		}
	}
	l.mu.RUnlock()

	stored := make([]StoredFact, 0, len(facts))
	for _, f := range facts {
		head := inProgressHeads[f.ID]
		if err := validateFact(f, head); err != nil {
			return nil, err
		}

		h, err := f.Hash()
		if err != nil {
			return nil, err
		}

		sf := StoredFact{Fact: f, Hash: h, Version: nextVersion}

		payload := payloadOf(f)
		if payload != nil {
			payloadRef, err := blob.PutJSON(ctx, l.blobs, payload)
			if err != nil {
				return nil, err
			}
			sf.PayloadRef = payloadRef
		}

		stored = append(stored, sf)
		inProgressHeads[f.ID] = &sf
	}

	commitHash, err := hashCommit(nextVersion, stored)
	if err != nil {
		return nil, err
	}
	for i := range stored {
		stored[i].CommitHash = commitHash
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heads[branch] == nil {
		l.heads[branch] = make(map[string]*StoredFact)
		l.byEntity[branch] = make(map[string][]*StoredFact)
	}
	for i := range stored {
		sf := stored[i]
		l.byHash[sf.Hash] = &sf
		l.heads[branch][sf.Fact.ID] = &sf
		l.byEntity[branch][sf.Fact.ID] = append(l.byEntity[branch][sf.Fact.ID], &sf)
	}
	l.lastVersion[branch] = nextVersion

	return &Commit{Hash: commitHash, Version: nextVersion, Facts: stored, Timestamp: timestamp}, nil
}

func payloadOf(f Fact) interface{} {
	switch f.Kind {
	case KindSet:
		return f.Value
	case KindPatch:
		return f.Ops
	default:
		return nil
	}
}

// validateFact enforces the tombstone invariants against the current head:
// a Delete must reference a non-deleted head (a Write), and a PatchWrite
// may only apply when the head value exists.
func validateFact(f Fact, head *StoredFact) error {
	expectedParent, err := expectedParentOf(f.ID, head)
	if err != nil {
		return err
	}
	if f.Parent != expectedParent {
		return merrors.ChainViolation(f.ID, "parent does not match the current head")
	}

	switch f.Kind {
	case KindDelete:
		if head == nil || head.Fact.Kind == KindDelete {
			return merrors.TombstoneMisuse(f.ID, "delete of an empty or already-deleted entity")
		}
	case KindPatch:
		if head == nil || head.Fact.Kind == KindDelete {
			return merrors.TombstoneMisuse(f.ID, "patch of an empty or deleted entity")
		}
	case KindSet:
		// SetWrite is always legal: it creates, replaces, or revives.
	}
	return nil
}

// expectedParentOf is the hash every new fact for id must declare as its
// parent: the current head's hash, or EMPTY(id) if id has no facts yet.
func expectedParentOf(id string, head *StoredFact) (ref.Reference, error) {
	if head != nil {
		return head.Hash, nil
	}
	return ref.Empty(id)
}

// hashCommit computes the commit hash over {version, [fact.hash...]}.
func hashCommit(version int64, facts []StoredFact) (ref.Reference, error) {
	hashes := make([]string, len(facts))
	for i, f := range facts {
		hashes[i] = string(f.Hash)
	}
	return ref.Hash(map[string]interface{}{
		"version": version,
		"facts":   hashes,
	})
}

var _ Log = (*MemLog)(nil)
