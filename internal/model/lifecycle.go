package model

import "time"

// State is an application's observable lifecycle state.
type State string

// Lifecycle state constants.
const (
	StateForeground          State = "foreground"
	StateTransitioning       State = "transitioning"
	StateBackgroundActive    State = "background_active"
	StateBackgroundSuspended State = "background_suspended"
	StateTerminated          State = "terminated"
)

// EventType is a host-reported lifecycle notification.
type EventType string

// Lifecycle event constants.
const (
	EventActivate        EventType = "activate"
	EventDeactivate      EventType = "deactivate"
	EventResignActive    EventType = "resign_active"
	EventEnterBackground EventType = "enter_background"
	EventWillSuspend     EventType = "will_suspend"
	EventDidResume       EventType = "did_resume"
	EventWillTerminate   EventType = "will_terminate"
	EventMemoryPressure  EventType = "memory_pressure"

	// EventPolicyChange marks transitions recorded when a preference change
	// releases or re-holds an application. Hosts never send it.
	EventPolicyChange EventType = "policy_change"
	// EventToggle marks transitions recorded when backgrounding is switched
	// on or off for a running application. Hosts never send it.
	EventToggle EventType = "toggle"
)

// Action is a request the mediator issues to the host.
type Action string

// Host action constants.
const (
	ActionNone               Action = "none"
	ActionSuppressSuspension Action = "suppress_suspension"
	ActionPermitSuspension   Action = "permit_suspension"
	ActionTerminate          Action = "terminate"
)

// AllStates lists every lifecycle state.
var AllStates = []State{
	StateForeground,
	StateTransitioning,
	StateBackgroundActive,
	StateBackgroundSuspended,
	StateTerminated,
}

// validTransitions maps each state and event to the resulting state. Forced
// events are handled separately in NextState.
var validTransitions = map[State]map[EventType]State{
	StateForeground: {
		EventDeactivate:   StateTransitioning,
		EventResignActive: StateTransitioning,
		EventActivate:     StateForeground,
	},
	StateTransitioning: {
		EventEnterBackground: StateBackgroundActive,
		EventWillSuspend:     StateBackgroundSuspended,
		EventActivate:        StateForeground,
		EventDidResume:       StateForeground,
		EventResignActive:    StateTransitioning,
		EventDeactivate:      StateTransitioning,
	},
	StateBackgroundActive: {
		EventWillSuspend: StateBackgroundSuspended,
		EventActivate:    StateForeground,
		EventDidResume:   StateForeground,
	},
	StateBackgroundSuspended: {
		EventDidResume: StateForeground,
		EventActivate:  StateForeground,
	},
	StateTerminated: {
		EventActivate: StateForeground,
	},
}

// Forced reports whether the event must be honored from any state.
func (e EventType) Forced() bool {
	return e == EventWillTerminate || e == EventMemoryPressure
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventActivate, EventDeactivate, EventResignActive, EventEnterBackground,
		EventWillSuspend, EventDidResume, EventWillTerminate, EventMemoryPressure:
		return true
	}
	return false
}

// NextState returns the state reached from `from` on event e and whether the
// transition is allowed.
func NextState(from State, e EventType) (State, bool) {
	if e.Forced() {
		return StateTerminated, true
	}
	targets, ok := validTransitions[from]
	if !ok {
		return from, false
	}
	to, ok := targets[e]
	if !ok {
		return from, false
	}
	return to, true
}

// Event is a lifecycle notification delivered by an event source.
type Event struct {
	ID       string       `json:"id"`
	AppID    string       `json:"app_id"`
	Type     EventType    `json:"type"`
	Snapshot *AppSnapshot `json:"snapshot,omitempty"`
	// Surface lists the actions the host can perform on its firmware. Nil
	// means the host did not report one.
	Surface []Action  `json:"surface,omitempty"`
	At      time.Time `json:"at"`
}

// Transition is a recorded state change for one application.
type Transition struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	Event     EventType `json:"event"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Method    Method    `json:"method"`
	Action    Action    `json:"action"`
	Forced    bool      `json:"forced"`
	CreatedAt time.Time `json:"created_at"`
}

// Diagnostic is a one-time report of degraded behavior.
type Diagnostic struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
