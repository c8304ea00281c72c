package eventsource

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/model"
)

// maxPendingActions bounds the queue for one application. Applications driven
// over HTTP never collect their replies, so older actions are dropped first.
const maxPendingActions = 8

// Compile-time interface satisfaction check.
var _ lifecycle.Host = (*Bridge)(nil)

// Submitter hands an event to the mediator's main sequence.
// *lifecycle.Mediator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, ev model.Event) (lifecycle.Decision, error)
}

// Bridge is a lifecycle.Host for hosts that report events over a socket. The
// host's read accessors are answered from the latest event for each
// application, and action requests are queued until they can be returned in
// a Reply.
type Bridge struct {
	mu        sync.Mutex
	snapshots map[string]model.AppSnapshot
	// surface is the most recent report; nil until a host sends one.
	surface []model.Action
	pending map[string][]model.Action

	// seq serialises Handle so each reply carries only its own actions.
	seq sync.Mutex
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		snapshots: make(map[string]model.AppSnapshot),
		pending:   make(map[string][]model.Action),
	}
}

// Snapshot implements lifecycle.Host.
func (b *Bridge) Snapshot(appID string) (model.AppSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.snapshots[appID]
	if !ok {
		return model.AppSnapshot{}, fmt.Errorf("snapshot %s: no event carried one", appID)
	}
	return s, nil
}

// Supports implements lifecycle.Host. Every action is assumed available until
// the host reports a surface.
func (b *Bridge) Supports(a model.Action) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.surface == nil {
		return true
	}
	return slices.Contains(b.surface, a)
}

// Perform implements lifecycle.Host by queuing a for the next reply.
func (b *Bridge) Perform(_ context.Context, appID string, a model.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.surface != nil && !slices.Contains(b.surface, a) {
		return fmt.Errorf("perform %s: %w", a, lifecycle.ErrUnsupported)
	}
	queue := append(b.pending[appID], a)
	if n := len(queue) - maxPendingActions; n > 0 {
		droppedActionsTotal.Add(float64(n))
		queue = slices.Delete(queue, 0, n)
	}
	b.pending[appID] = queue
	return nil
}

// Observe records the snapshot and surface carried by ev.
func (b *Bridge) Observe(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Snapshot != nil {
		b.snapshots[ev.AppID] = *ev.Snapshot
	}
	if ev.Surface != nil {
		b.surface = slices.Clone(ev.Surface)
	}
}

// Take returns and clears the actions queued for appID.
func (b *Bridge) Take(appID string) []model.Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	actions := b.pending[appID]
	delete(b.pending, appID)
	return actions
}

// Handler returns a Handler that feeds events through s and collects the
// resulting host actions into the reply.
func (b *Bridge) Handler(s Submitter) Handler {
	return HandlerFunc(func(ctx context.Context, ev model.Event) Reply {
		b.seq.Lock()
		defer b.seq.Unlock()

		b.Observe(ev)
		d, err := s.Submit(ctx, ev)
		reply := Reply{
			AppID:   ev.AppID,
			State:   d.To,
			Method:  d.Method,
			Action:  d.Action,
			Actions: b.Take(ev.AppID),
		}
		if err != nil {
			reply.Error = err.Error()
		}
		return reply
	})
}
