package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/policy"
)

// Diagnostic codes emitted by the mediator.
const (
	DiagSuppressFailed  = "suppress_failed"
	DiagTerminateFailed = "terminate_failed"
)

// Resolver decides the backgrounding method for an application.
// *policy.Resolver satisfies it.
type Resolver interface {
	Decide(appID string, caps model.Capabilities, surface []model.Action) policy.Decision
	ToggleFlags(appID string) policy.ToggleFlags
}

// AppStatus is the mediator's view of one application. Enabled is the
// per-application backgrounding switch; the backgrounder method only holds an
// enabled application.
type AppStatus struct {
	AppID        string             `json:"app_id"`
	State        model.State        `json:"state"`
	Method       model.Method       `json:"method"`
	Action       model.Action       `json:"action"`
	Held         bool               `json:"held"`
	Enabled      bool               `json:"enabled"`
	Capabilities model.Capabilities `json:"capabilities"`
	PID          int                `json:"pid,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Decision is the outcome of handling one event.
type Decision struct {
	AppID  string       `json:"app_id"`
	From   model.State  `json:"from"`
	To     model.State  `json:"to"`
	Method model.Method `json:"method"`
	Action model.Action `json:"action"`
	Forced bool         `json:"forced"`
}

type appState struct {
	status AppStatus
}

type request struct {
	ctx   context.Context
	run   func(context.Context) (Decision, error)
	reply chan result
}

type result struct {
	decision Decision
	err      error
}

// Mediator drives per-application lifecycle state. Handle may be called
// re-entrantly from inside a Host action; the internal lock is never held
// while the host is called.
type Mediator struct {
	resolver Resolver
	host     Host
	recorder Recorder
	diags    *policy.Diagnostics
	logger   *slog.Logger
	broker   *Broker

	mu   sync.Mutex
	apps map[string]*appState

	// suppressBroken is set once the host fails to suppress suspension with
	// ErrUnsupported; later decisions treat the action as unavailable.
	suppressBroken atomic.Bool

	requests chan request
	reeval   chan struct{}
}

// NewMediator creates a mediator. recorder and diags may be nil.
func NewMediator(resolver Resolver, host Host, recorder Recorder, diags *policy.Diagnostics, logger *slog.Logger) *Mediator {
	return &Mediator{
		resolver: resolver,
		host:     host,
		recorder: recorder,
		diags:    diags,
		logger:   logger,
		broker:   NewBroker(),
		apps:     make(map[string]*appState),
		requests: make(chan request),
		reeval:   make(chan struct{}, 1),
	}
}

// Broker returns the mediator's transition broker for streaming subscribers.
func (m *Mediator) Broker() *Broker {
	return m.broker
}

// Run consumes events from src and requests made through Submit, one at a
// time, until ctx is done or src is exhausted. Preference change
// notifications are processed on the same sequence.
func (m *Mediator) Run(ctx context.Context, src EventSource) error {
	var events <-chan model.Event
	if src != nil {
		events = src.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := m.Handle(ctx, ev); err != nil {
				m.logger.Warn("lifecycle event rejected", "app_id", ev.AppID, "event", ev.Type, "error", err)
			}

		case req := <-m.requests:
			d, err := req.run(req.ctx)
			req.reply <- result{decision: d, err: err}

		case <-m.reeval:
			m.Reevaluate(ctx)
		}
	}
}

// Submit hands ev to the Run loop and waits for its decision. It is meant for
// callers outside the host's main sequence, such as the HTTP API and socket
// listeners. Run must be active.
func (m *Mediator) Submit(ctx context.Context, ev model.Event) (Decision, error) {
	return m.enqueue(ctx, func(ctx context.Context) (Decision, error) {
		return m.Handle(ctx, ev)
	})
}

// Toggle flips the backgrounding switch for appID on the Run loop and waits
// for the outcome. Run must be active.
func (m *Mediator) Toggle(ctx context.Context, appID string) (Decision, error) {
	return m.enqueue(ctx, func(ctx context.Context) (Decision, error) {
		return m.ApplyToggle(ctx, appID)
	})
}

func (m *Mediator) enqueue(ctx context.Context, run func(context.Context) (Decision, error)) (Decision, error) {
	req := request{ctx: ctx, run: run, reply: make(chan result, 1)}
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.decision, res.err
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// NotifyPolicyChange schedules a re-evaluation of background applications on
// the Run loop. It never blocks.
func (m *Mediator) NotifyPolicyChange() {
	select {
	case m.reeval <- struct{}{}:
	default:
	}
}

// Handle applies one lifecycle event synchronously.
func (m *Mediator) Handle(ctx context.Context, ev model.Event) (Decision, error) {
	if ev.AppID == "" || !ev.Type.Valid() {
		return Decision{}, fmt.Errorf("%w: app %q type %q", ErrInvalidEvent, ev.AppID, ev.Type)
	}

	snap := ev.Snapshot
	if snap == nil && !m.known(ev.AppID) {
		s, err := m.host.Snapshot(ev.AppID)
		if err != nil {
			m.logger.Debug("no host snapshot for new application", "app_id", ev.AppID, "error", err)
		} else {
			snap = &s
		}
	}
	surface := m.surface(ev)
	flags := m.resolver.ToggleFlags(ev.AppID)

	m.mu.Lock()
	st, isNew := m.lookup(ev, snap, flags)
	from := st.status.State
	to, ok := model.NextState(from, ev.Type)
	if !ok {
		m.mu.Unlock()
		invalidEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		return Decision{AppID: ev.AppID, From: from, To: from, Method: st.status.Method, Action: model.ActionNone},
			fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev.Type, from)
	}
	if isNew {
		m.apps[ev.AppID] = st
	}
	if snap != nil {
		st.status.Capabilities = snap.Capabilities
		st.status.PID = snap.PID
	}

	action := model.ActionNone
	switch ev.Type {
	case model.EventDeactivate, model.EventResignActive:
		d := gate(m.resolver.Decide(ev.AppID, st.status.Capabilities, surface), st.status.Enabled)
		st.status.Method = d.Method
		st.status.Held = d.Method == model.MethodBackgrounder
		action = d.Action

	case model.EventWillSuspend:
		if st.status.Held {
			// Veto the suspension: stay in the background, running.
			to = model.StateBackgroundActive
			action = model.ActionSuppressSuspension
		}

	case model.EventActivate, model.EventDidResume:
		st.status.Held = false
		switch {
		case isNew || from == model.StateTerminated:
			st.status.Enabled = flags.EnableAtLaunch
		case !flags.Persistent:
			st.status.Enabled = false
		}

	case model.EventWillTerminate:
		st.status.Held = false

	case model.EventMemoryPressure:
		st.status.Held = false
		if from != model.StateTerminated {
			action = model.ActionTerminate
		}
	}

	st.status.State = to
	st.status.Action = action
	st.status.UpdatedAt = time.Now().UTC()
	decision := Decision{
		AppID:  ev.AppID,
		From:   from,
		To:     to,
		Method: st.status.Method,
		Action: action,
		Forced: ev.Type.Forced(),
	}
	m.updateHeldGauge()
	m.mu.Unlock()

	if action != model.ActionNone {
		decision = m.perform(ctx, ev.Type, decision)
	}

	m.record(ctx, ev.Type, decision)
	return decision, nil
}

// Reevaluate re-resolves every application in the background after a
// preference change, releasing held applications whose policy no longer
// keeps them alive and holding those that now qualify.
func (m *Mediator) Reevaluate(ctx context.Context) {
	m.mu.Lock()
	var candidates []holdCandidate
	for _, st := range m.apps {
		switch st.status.State {
		case model.StateBackgroundActive, model.StateTransitioning:
			candidates = append(candidates, candidateOf(st.status))
		}
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].appID < candidates[j].appID })
	surface := m.surface(model.Event{})

	for _, c := range candidates {
		if d, changed := m.rehold(ctx, model.EventPolicyChange, c, surface); changed {
			m.logger.Info("policy change applied", "app_id", c.appID, "method", d.Method.String(),
				"held", d.Action == model.ActionSuppressSuspension)
		}
	}
}

// ApplyToggle flips the backgrounding switch for appID synchronously. An
// application already in the background is held or released at once.
func (m *Mediator) ApplyToggle(ctx context.Context, appID string) (Decision, error) {
	surface := m.surface(model.Event{})

	m.mu.Lock()
	st, ok := m.apps[appID]
	if !ok {
		m.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownApp, appID)
	}
	st.status.Enabled = !st.status.Enabled
	st.status.UpdatedAt = time.Now().UTC()
	c := candidateOf(st.status)
	d := Decision{AppID: appID, From: c.state, To: c.state, Method: st.status.Method, Action: model.ActionNone}
	m.mu.Unlock()

	m.logger.Info("backgrounding toggled", "app_id", appID, "enabled", c.enabled)

	switch c.state {
	case model.StateBackgroundActive, model.StateTransitioning:
		if rd, changed := m.rehold(ctx, model.EventToggle, c, surface); changed {
			d = rd
		}
	}
	return d, nil
}

// holdCandidate is a copy of the fields rehold needs, taken under m.mu.
type holdCandidate struct {
	appID   string
	caps    model.Capabilities
	held    bool
	enabled bool
	state   model.State
}

func candidateOf(s AppStatus) holdCandidate {
	return holdCandidate{appID: s.AppID, caps: s.Capabilities, held: s.Held, enabled: s.Enabled, state: s.State}
}

// rehold re-resolves a background application and issues suppress or permit
// when its hold changes. It reports whether anything was done.
func (m *Mediator) rehold(ctx context.Context, marker model.EventType, c holdCandidate, surface []model.Action) (Decision, bool) {
	pd := gate(m.resolver.Decide(c.appID, c.caps, surface), c.enabled)
	nowHeld := pd.Method == model.MethodBackgrounder
	if nowHeld == c.held {
		return Decision{}, false
	}

	action := model.ActionPermitSuspension
	if nowHeld {
		action = model.ActionSuppressSuspension
	}

	m.mu.Lock()
	st, ok := m.apps[c.appID]
	if !ok || st.status.State != c.state || st.status.Enabled != c.enabled {
		// The application moved on while we were resolving.
		m.mu.Unlock()
		return Decision{}, false
	}
	st.status.Held = nowHeld
	st.status.Method = pd.Method
	st.status.Action = action
	st.status.UpdatedAt = time.Now().UTC()
	m.updateHeldGauge()
	m.mu.Unlock()

	d := Decision{
		AppID:  c.appID,
		From:   c.state,
		To:     c.state,
		Method: pd.Method,
		Action: action,
	}
	d = m.perform(ctx, marker, d)
	m.record(ctx, marker, d)
	return d, true
}

// gate applies the per-application switch: a disabled application never gets
// the backgrounder method and suspends the native way instead.
func gate(d policy.Decision, enabled bool) policy.Decision {
	if d.Method == model.MethodBackgrounder && !enabled {
		return policy.Decision{Method: model.MethodNative, Action: model.ActionPermitSuspension}
	}
	return d
}

// Apps returns the status of every known application, sorted by id.
func (m *Mediator) Apps() []AppStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AppStatus, 0, len(m.apps))
	for _, st := range m.apps {
		out = append(out, st.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out
}

// App returns the status of one application.
func (m *Mediator) App(appID string) (AppStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.apps[appID]
	if !ok {
		return AppStatus{}, false
	}
	return st.status, true
}

// perform issues the decided action to the host and degrades on failure.
// Suppression that fails falls back to off, permitting suspension. Forced
// terminations are never retried.
func (m *Mediator) perform(ctx context.Context, ev model.EventType, d Decision) Decision {
	err := m.host.Perform(ctx, d.AppID, d.Action)
	if err == nil {
		return d
	}
	hostActionFailuresTotal.WithLabelValues(string(d.Action)).Inc()

	switch d.Action {
	case model.ActionSuppressSuspension:
		if errors.Is(err, ErrUnsupported) {
			m.suppressBroken.Store(true)
		}
		m.diagnose(DiagSuppressFailed, fmt.Sprintf("host failed to suppress suspension: %v", err))

		if perr := m.host.Perform(ctx, d.AppID, model.ActionPermitSuspension); perr != nil {
			hostActionFailuresTotal.WithLabelValues(string(model.ActionPermitSuspension)).Inc()
			m.logger.Error("permit suspension after failed suppress", "app_id", d.AppID, "error", perr)
		}

		m.mu.Lock()
		if st, ok := m.apps[d.AppID]; ok {
			st.status.Held = false
			st.status.Method = model.MethodOff
			st.status.Action = model.ActionPermitSuspension
			if ev == model.EventWillSuspend && st.status.State == model.StateBackgroundActive {
				st.status.State = model.StateBackgroundSuspended
				d.To = model.StateBackgroundSuspended
			}
		}
		m.updateHeldGauge()
		m.mu.Unlock()

		d.Method = model.MethodOff
		d.Action = model.ActionPermitSuspension

	case model.ActionTerminate:
		m.diagnose(DiagTerminateFailed, fmt.Sprintf("host failed to terminate an application: %v", err))
		m.logger.Error("terminate application", "app_id", d.AppID, "error", err)

	default:
		m.logger.Error("host action failed", "app_id", d.AppID, "action", d.Action, "error", err)
	}
	return d
}

func (m *Mediator) record(ctx context.Context, ev model.EventType, d Decision) {
	transitionsTotal.WithLabelValues(string(d.From), string(d.To)).Inc()
	if d.Forced {
		forcedTerminationsTotal.WithLabelValues(string(ev)).Inc()
	}

	tr := model.Transition{
		ID:        model.NewID(),
		AppID:     d.AppID,
		Event:     ev,
		From:      d.From,
		To:        d.To,
		Method:    d.Method,
		Action:    d.Action,
		Forced:    d.Forced,
		CreatedAt: time.Now().UTC(),
	}
	if m.recorder != nil {
		if err := m.recorder.RecordTransition(ctx, tr); err != nil {
			m.logger.Error("record transition", "app_id", d.AppID, "error", err)
		}
	}
	m.broker.Publish(tr)

	m.logger.Debug("lifecycle transition",
		"app_id", d.AppID,
		"event", ev,
		"from", d.From,
		"to", d.To,
		"method", d.Method.String(),
		"action", d.Action,
	)
}

// surface returns the actions available for this event: the event's own
// report if present, otherwise the host's.
func (m *Mediator) surface(ev model.Event) []model.Action {
	var surface []model.Action
	if ev.Surface != nil {
		surface = slices.Clone(ev.Surface)
	} else {
		surface = make([]model.Action, 0, len(hostActions))
		for _, a := range hostActions {
			if m.host.Supports(a) {
				surface = append(surface, a)
			}
		}
	}
	if m.suppressBroken.Load() {
		surface = slices.DeleteFunc(surface, func(a model.Action) bool {
			return a == model.ActionSuppressSuspension
		})
	}
	return surface
}

func (m *Mediator) known(appID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.apps[appID]
	return ok
}

// lookup returns the state for ev.AppID and whether the application is new.
// A new application is not stored; the caller inserts it once the event is
// accepted. Must be called with m.mu held.
func (m *Mediator) lookup(ev model.Event, snap *model.AppSnapshot, flags policy.ToggleFlags) (*appState, bool) {
	if st, ok := m.apps[ev.AppID]; ok {
		return st, false
	}
	return &appState{status: AppStatus{
		AppID:   ev.AppID,
		State:   seedState(ev.Type, snap),
		Method:  model.MethodOff,
		Action:  model.ActionNone,
		Enabled: flags.EnableAtLaunch,
	}}, true
}

// seedState infers the state of an application seen for the first time. A
// snapshot wins; without one the event implies where the application was.
func seedState(e model.EventType, snap *model.AppSnapshot) model.State {
	if snap != nil {
		return model.StateFromSnapshot(*snap)
	}
	switch e {
	case model.EventDeactivate, model.EventResignActive:
		return model.StateForeground
	case model.EventEnterBackground, model.EventWillSuspend:
		return model.StateTransitioning
	}
	return model.StateTerminated
}

// updateHeldGauge must be called with m.mu held.
func (m *Mediator) updateHeldGauge() {
	n := 0
	for _, st := range m.apps {
		if st.status.Held {
			n++
		}
	}
	heldApps.Set(float64(n))
}

func (m *Mediator) diagnose(code, msg string) {
	if m.diags != nil {
		m.diags.Once(code, msg)
		return
	}
	m.logger.Warn("degraded backgrounding", "code", code, "message", msg)
}
