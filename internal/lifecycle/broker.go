package lifecycle

import (
	"sync"

	"github.com/seantiz/backgrounder/internal/model"
)

// subscriberBufferSize is the channel buffer for each transition subscriber.
// Transitions are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// AllApps subscribes to transitions of every application.
const AllApps = "*"

// Broker fans transitions out to subscribers, per application and for
// AllApps. It is safe for concurrent use.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type topic struct {
	subs   map[int]chan model.Transition
	nextID int
}

// NewBroker creates a new transition broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel receiving transitions for appID (or AllApps)
// and an unsubscribe function. After Close the returned channel is already
// closed.
func (b *Broker) Subscribe(appID string) (<-chan model.Transition, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Transition, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	t, ok := b.topics[appID]
	if !ok {
		t = &topic{subs: make(map[int]chan model.Transition)}
		b.topics[appID] = t
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
}

// Publish sends tr to subscribers of its application and of AllApps.
// Transitions are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(tr model.Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, key := range []string{tr.AppID, AllApps} {
		t, ok := b.topics[key]
		if !ok {
			continue
		}
		for _, ch := range t.subs {
			select {
			case ch <- tr:
			default:
				// Drop for slow subscribers; lifecycle handling never waits.
			}
		}
	}
}

// Close closes every subscriber channel. Later Subscribe calls return a
// closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for key, t := range b.topics {
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
		delete(b.topics, key)
	}
}
