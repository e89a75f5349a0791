package bridge

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses snapshots; the next cycle supersedes them
// anyway.
const subscriberBuffer = 8

type subscriber struct {
	ch       chan models.Snapshot
	category models.Category
	all      bool
}

// Bus fans polled snapshots out to in-process subscribers (the local API,
// the websocket hub, the external forwarders) and remembers the latest
// snapshot per category.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	latest map[models.Category]models.Snapshot
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[int]*subscriber),
		latest: make(map[models.Category]models.Snapshot),
	}
}

// Subscribe registers for snapshots of one category. The returned cancel
// func must be called to release the subscription.
func (b *Bus) Subscribe(cat models.Category) (<-chan models.Snapshot, func()) {
	return b.subscribe(&subscriber{ch: make(chan models.Snapshot, subscriberBuffer), category: cat})
}

// SubscribeAll registers for snapshots of every category.
func (b *Bus) SubscribeAll() (<-chan models.Snapshot, func()) {
	return b.subscribe(&subscriber{ch: make(chan models.Snapshot, subscriberBuffer), all: true})
}

func (b *Bus) subscribe(sub *subscriber) (<-chan models.Snapshot, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers a snapshot to matching subscribers without blocking the
// poll loop; a full subscriber drops the snapshot.
func (b *Bus) Publish(snap models.Snapshot) {
	b.mu.Lock()
	b.latest[snap.Category] = snap
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.all && sub.category != snap.Category {
			continue
		}
		select {
		case sub.ch <- snap:
		default:
			log.Warn().Str("category", string(snap.Category)).Msg("Subscriber lagging, snapshot dropped")
		}
	}
}

// Latest returns the most recent snapshot for a category, if any.
func (b *Bus) Latest(cat models.Category) (models.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.latest[cat]
	return snap, ok
}
