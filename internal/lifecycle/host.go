package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/seantiz/backgrounder/internal/model"
)

// ErrUnsupported is returned by a Host that cannot perform an action on the
// running firmware.
var ErrUnsupported = errors.New("host action unsupported")

// ErrInvalidTransition is returned when an event is not allowed in the
// application's current state. The state is left unchanged.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// ErrUnknownApp is returned when an operation names an application the
// mediator has not seen.
var ErrUnknownApp = errors.New("unknown application")

// ErrInvalidEvent is returned for events with no application or an unknown type.
var ErrInvalidEvent = errors.New("invalid lifecycle event")

// Host is the boundary to the process that owns the applications. Read
// accessors report what the host knows; Perform issues action requests.
type Host interface {
	Snapshot(appID string) (model.AppSnapshot, error)
	Supports(a model.Action) bool
	Perform(ctx context.Context, appID string, a model.Action) error
}

// EventSource delivers lifecycle events. Events closes when the source is
// exhausted or closed.
type EventSource interface {
	Events() <-chan model.Event
	Close() error
}

// Recorder persists transitions. Implementations must not block.
type Recorder interface {
	RecordTransition(ctx context.Context, t model.Transition) error
}

// hostActions lists the actions checked when a host does not report a surface.
var hostActions = []model.Action{
	model.ActionSuppressSuspension,
	model.ActionPermitSuspension,
	model.ActionTerminate,
}

// ChannelSource is an EventSource backed by a channel. Send blocks until the
// event is accepted or ctx is done.
type ChannelSource struct {
	ch   chan model.Event
	once sync.Once
}

// NewChannelSource creates a source with the given buffer size.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{
		ch: make(chan model.Event, buffer),
	}
}

// Events implements EventSource.
func (c *ChannelSource) Events() <-chan model.Event {
	return c.ch
}

// Send delivers ev to the consumer.
func (c *ChannelSource) Send(ctx context.Context, ev model.Event) error {
	select {
	case c.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream. It must be called by the only sender, after its
// last Send.
func (c *ChannelSource) Close() error {
	c.once.Do(func() { close(c.ch) })
	return nil
}
