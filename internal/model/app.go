package model

// Capabilities lists the native background modes an application declares.
type Capabilities struct {
	Audio      bool `json:"audio"`
	Location   bool `json:"location"`
	VOIP       bool `json:"voip"`
	Continuous bool `json:"continuous"`
}

// Native reports whether the application declares any native background mode.
func (c Capabilities) Native() bool {
	return c.Audio || c.Location || c.VOIP || c.Continuous
}

// Modes returns the declared modes by name, in a fixed order.
func (c Capabilities) Modes() []string {
	var modes []string
	if c.Audio {
		modes = append(modes, "audio")
	}
	if c.Location {
		modes = append(modes, "location")
	}
	if c.VOIP {
		modes = append(modes, "voip")
	}
	if c.Continuous {
		modes = append(modes, "continuous")
	}
	return modes
}

// AppSnapshot is the host's view of a running application. It is owned by the
// host and only ever read here.
type AppSnapshot struct {
	AppID        string       `json:"app_id"`
	PID          int          `json:"pid"`
	Running      bool         `json:"running"`
	Suspended    bool         `json:"suspended"`
	Active       bool         `json:"active"`
	Capabilities Capabilities `json:"capabilities"`
}

// StateFromSnapshot derives the lifecycle state of an application the mediator
// has not seen before.
func StateFromSnapshot(s AppSnapshot) State {
	switch {
	case !s.Running:
		return StateTerminated
	case s.Active:
		return StateForeground
	case s.Suspended:
		return StateBackgroundSuspended
	default:
		return StateBackgroundActive
	}
}
