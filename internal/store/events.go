package store

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EntityChange is one entity touched by a committed block.
type EntityChange struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	// Kind is "set" or "remove".
	Kind string `json:"kind"`
}

// StoreEvent is broadcast after every committed Apply or RevertTo.
type StoreEvent struct {
	// Tag is a UUIDv7, so tags sort in commit order.
	Tag          string         `json:"tag"`
	DeploymentID string         `json:"deployment_id"`
	Block        int64          `json:"block"`
	Revert       bool           `json:"revert,omitempty"`
	Changes      []EntityChange `json:"changes,omitempty"`
}

// Subscription receives store events for a set of deployments.
type Subscription struct {
	// C delivers events. It is closed by Close.
	C <-chan StoreEvent

	ch          chan StoreEvent
	deployments map[string]bool
	broker      *broker
	once        sync.Once
}

// Close stops delivery and closes C.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.broker.remove(sub)
	})
}

func (sub *Subscription) wants(deploymentID string) bool {
	return len(sub.deployments) == 0 || sub.deployments[deploymentID]
}

// Subscribe returns a subscription to events of the given deployments, or
// of every deployment when none are given.
//
// Delivery never blocks the writer: when a subscriber's buffer is full the
// event is dropped for that subscriber and logged.
func (s *Store) Subscribe(deploymentIDs ...string) *Subscription {
	return s.events.add(deploymentIDs)
}

type broker struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	buffer  int
	metrics *Metrics
}

func newBroker(buffer int, metrics *Metrics) *broker {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &broker{subs: make(map[*Subscription]struct{}), buffer: buffer, metrics: metrics}
}

func (b *broker) add(deploymentIDs []string) *Subscription {
	ch := make(chan StoreEvent, b.buffer)
	sub := &Subscription{C: ch, ch: ch, deployments: make(map[string]bool), broker: b}
	for _, id := range deploymentIDs {
		sub.deployments[id] = true
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// publish stamps and delivers an event. Called after commit.
func (b *broker) publish(event StoreEvent) {
	event.Tag = uuid.Must(uuid.NewV7()).String()

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.wants(event.DeploymentID) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.metrics.EventsDropped.Inc()
			log.Warn("dropped store event",
				zap.String("deployment", event.DeploymentID),
				zap.Int64("block", event.Block),
				zap.String("tag", event.Tag))
		}
	}
}
