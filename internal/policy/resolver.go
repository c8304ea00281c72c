package policy

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/prefs"
)

// Diagnostic codes emitted by the resolver.
const (
	DiagSimulatedUnsupported = "simulated_unsupported"
	DiagSimulatedDisabled    = "simulated_disabled"
)

// PreferenceSource supplies effective preferences. *prefs.Store satisfies it.
type PreferenceSource interface {
	Get(appID string) prefs.Effective
}

// Options configures a Resolver.
type Options struct {
	// DisableSimulated turns the backgrounder technique off for every
	// application regardless of preferences.
	DisableSimulated bool
}

// Resolver computes the backgrounding method for an application.
type Resolver struct {
	prefs  PreferenceSource
	opts   Options
	diags  *Diagnostics
	logger *slog.Logger
}

// NewResolver creates a resolver reading preferences from src. diags may be
// nil, in which case downgrades are logged only.
func NewResolver(src PreferenceSource, opts Options, diags *Diagnostics, logger *slog.Logger) *Resolver {
	return &Resolver{
		prefs:  src,
		opts:   opts,
		diags:  diags,
		logger: logger,
	}
}

// Resolve returns the method for appID assuming the host supports every action.
func (r *Resolver) Resolve(appID string, caps model.Capabilities) model.Method {
	return r.ResolveWithSurface(appID, caps, nil)
}

// ResolveWithSurface returns the method for appID. surface lists the actions
// the host can perform; nil means the host did not report one and every
// action is assumed available.
//
// Order of preference:
//   - off stays off.
//   - native and autodetect use the native path whenever the application
//     declares a native background mode. Native always wins over simulated
//     for autodetect.
//   - backgrounder and autodetect use the simulated technique if it is viable.
//   - a backgrounder request that cannot be honored falls back to native when
//     fallbackToNative is set and the application supports it.
//   - everything else resolves to off.
func (r *Resolver) ResolveWithSurface(appID string, caps model.Capabilities, surface []model.Action) model.Method {
	eff := r.prefs.Get(appID)
	method := r.resolve(appID, eff, caps, surface)
	resolutionsTotal.WithLabelValues(method.String()).Inc()
	return method
}

func (r *Resolver) resolve(appID string, eff prefs.Effective, caps model.Capabilities, surface []model.Action) model.Method {
	switch eff.Method {
	case model.MethodOff:
		return model.MethodOff

	case model.MethodNative:
		if caps.Native() {
			return model.MethodNative
		}
		return model.MethodOff

	case model.MethodAutoDetect:
		if caps.Native() {
			return model.MethodNative
		}
		if r.simulatedViable(appID, surface) {
			return model.MethodBackgrounder
		}
		return model.MethodOff

	case model.MethodBackgrounder:
		if r.simulatedViable(appID, surface) {
			return model.MethodBackgrounder
		}
		if eff.FallbackToNative && caps.Native() {
			return model.MethodNative
		}
		return model.MethodOff

	default:
		// Unknown values only reach here from a hand-edited document that
		// bypassed validation.
		r.logger.Warn("unknown backgrounding method, using off", "app_id", appID, "method", int(eff.Method))
		return model.MethodOff
	}
}

// simulatedViable reports whether the backgrounder technique can be used.
func (r *Resolver) simulatedViable(appID string, surface []model.Action) bool {
	if r.opts.DisableSimulated {
		r.diagnose(DiagSimulatedDisabled, "simulated backgrounding disabled by configuration")
		return false
	}
	if surface != nil && !slices.Contains(surface, model.ActionSuppressSuspension) {
		r.diagnose(DiagSimulatedUnsupported,
			fmt.Sprintf("host cannot suppress suspension (first seen for %s); simulated backgrounding downgraded", appID))
		return false
	}
	return true
}

func (r *Resolver) diagnose(code, msg string) {
	if r.diags != nil {
		r.diags.Once(code, msg)
		return
	}
	r.logger.Debug("policy downgrade", "code", code, "message", msg)
}

// Decision is a resolved method together with the host action it implies.
type Decision struct {
	Method model.Method
	Action model.Action
}

// Decide resolves the method for appID and maps it to the action the host
// should take when the application leaves the foreground.
func (r *Resolver) Decide(appID string, caps model.Capabilities, surface []model.Action) Decision {
	eff := r.prefs.Get(appID)
	method := r.resolve(appID, eff, caps, surface)
	resolutionsTotal.WithLabelValues(method.String()).Inc()
	return Decision{
		Method: method,
		Action: ActionFor(method, eff.FastAppSwitchingEnabled),
	}
}

// ToggleFlags are the per-application preferences that govern whether
// backgrounding is switched on for a running application.
type ToggleFlags struct {
	// EnableAtLaunch switches backgrounding on when the application launches.
	EnableAtLaunch bool
	// Persistent keeps the switch on when the application returns to the
	// foreground.
	Persistent bool
}

// ToggleFlags returns the toggle preferences for appID.
func (r *Resolver) ToggleFlags(appID string) ToggleFlags {
	eff := r.prefs.Get(appID)
	return ToggleFlags{EnableAtLaunch: eff.EnableAtLaunch, Persistent: eff.Persistent}
}

// ActionFor maps a method to a host action. With backgrounding off, an
// application is still allowed to suspend when fast app switching is enabled;
// otherwise it is made to exit.
func ActionFor(m model.Method, fastAppSwitching bool) model.Action {
	switch m {
	case model.MethodBackgrounder:
		return model.ActionSuppressSuspension
	case model.MethodNative:
		return model.ActionPermitSuspension
	default:
		if fastAppSwitching {
			return model.ActionPermitSuspension
		}
		return model.ActionTerminate
	}
}
