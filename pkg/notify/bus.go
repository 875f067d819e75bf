// Package notify implements the Notification Bus: synchronous, ordered
// delivery of commit and integrate events to subscribers.
package notify

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mattsp1290/memoryv2/pkg/fact"
	"github.com/mattsp1290/memoryv2/pkg/merrors"
	"github.com/mattsp1290/memoryv2/pkg/mlog"
	"github.com/mattsp1290/memoryv2/pkg/ref"
)

// Kind discriminates the two event kinds the bus ever emits.
type Kind string

const (
	KindCommit    Kind = "commit"
	KindIntegrate Kind = "integrate"
)

// Change describes one entity's new head within an event.
type Change struct {
	ID      string
	NewHash ref.Reference
}

// Event is published for every commit: once as "commit" by the replica
// that authored it, once as "integrate" by every replica applying it
// externally.
type Event struct {
	Kind       Kind
	Branch     fact.BranchID
	CommitHash ref.Reference
	Version    int64
	Changes    []Change
}

// Handler receives published events. A Handler that panics or returns an
// error is logged, not propagated — one misbehaving subscriber never
// blocks another subscriber or the triggering commit.
type Handler func(Event) error

// SubscriptionID identifies a registered Handler.
type SubscriptionID string

// Bus is the Notification Bus. Delivery to each subscriber is ordered and
// synchronous: Publish does not return until every subscriber has been
// offered the event.
type Bus struct {
	mu             sync.Mutex
	subs           map[SubscriptionID]*subscriber
	maxSubscribers int
	logger         mlog.Logger
}

type subscriber struct {
	id      SubscriptionID
	handler Handler
	mu      sync.Mutex // serializes delivery to this subscriber specifically
}

// NewBus constructs an empty Bus. maxSubscribers <= 0 means unbounded.
// logger may be nil, in which case a no-op logger is used.
func NewBus(maxSubscribers int, logger mlog.Logger) *Bus {
	if logger == nil {
		logger = mlog.NopLogger{}
	}
	return &Bus{
		subs:           make(map[SubscriptionID]*subscriber),
		maxSubscribers: maxSubscribers,
		logger:         logger,
	}
}

// Subscribe registers handler and returns its SubscriptionID.
func (b *Bus) Subscribe(handler Handler) (SubscriptionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSubscribers > 0 && len(b.subs) >= b.maxSubscribers {
		return "", merrors.InvalidReference(fmt.Sprintf("subscriber limit of %d reached", b.maxSubscribers))
	}

	id := SubscriptionID(uuid.NewString())
	b.subs[id] = &subscriber{id: id, handler: handler}
	return id, nil
}

// Unsubscribe removes a subscriber; unsubscribing an unknown id is a no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers ev to every current subscriber, synchronously. The order
// across subscribers is not defined (subscribers are held in a map); events
// reach any one subscriber in publish order. A subscriber's panic or error is recovered and logged; it
// never aborts delivery to the remaining subscribers and never propagates
// to the caller.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	recipients := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		recipients = append(recipients, s)
	}
	b.mu.Unlock()

	for _, s := range recipients {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s *subscriber, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification subscriber panicked",
				mlog.String("subscription", string(s.id)),
				mlog.Any("recovered", r))
		}
	}()

	if err := s.handler(ev); err != nil {
		b.logger.Error("notification subscriber returned an error",
			mlog.String("subscription", string(s.id)), mlog.Err(err))
	}
}
