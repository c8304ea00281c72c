package prefs

import "github.com/seantiz/backgrounder/internal/model"

// GlobalKey addresses the global record in Get, Set and Reset.
const GlobalKey = "global"

// Record is a partial preference record. A nil field defers to the next level:
// an application override defers to the global record, which defers to the
// built-in defaults.
type Record struct {
	Method                  *model.Method `toml:"backgroundingMethod,omitempty" json:"backgroundingMethod,omitempty"`
	BadgeEnabled            *bool         `toml:"badgeEnabled,omitempty" json:"badgeEnabled,omitempty"`
	StatusBarIconEnabled    *bool         `toml:"statusBarIconEnabled,omitempty" json:"statusBarIconEnabled,omitempty"`
	Persistent              *bool         `toml:"persistent,omitempty" json:"persistent,omitempty"`
	EnableAtLaunch          *bool         `toml:"enableAtLaunch,omitempty" json:"enableAtLaunch,omitempty"`
	MinimizeOnToggle        *bool         `toml:"minimizeOnToggle,omitempty" json:"minimizeOnToggle,omitempty"`
	FallbackToNative        *bool         `toml:"fallbackToNative,omitempty" json:"fallbackToNative,omitempty"`
	FastAppSwitchingEnabled *bool         `toml:"fastAppSwitchingEnabled,omitempty" json:"fastAppSwitchingEnabled,omitempty"`
	ForceFastAppSwitching   *bool         `toml:"forceFastAppSwitching,omitempty" json:"forceFastAppSwitching,omitempty"`
}

// Effective is a fully resolved preference record.
type Effective struct {
	Method                  model.Method `json:"backgroundingMethod"`
	BadgeEnabled            bool         `json:"badgeEnabled"`
	StatusBarIconEnabled    bool         `json:"statusBarIconEnabled"`
	Persistent              bool         `json:"persistent"`
	EnableAtLaunch          bool         `json:"enableAtLaunch"`
	MinimizeOnToggle        bool         `json:"minimizeOnToggle"`
	FallbackToNative        bool         `json:"fallbackToNative"`
	FastAppSwitchingEnabled bool         `json:"fastAppSwitchingEnabled"`
	ForceFastAppSwitching   bool         `json:"forceFastAppSwitching"`
}

// Defaults returns the values used when neither the global record nor an
// override sets a field.
func Defaults() Effective {
	return Effective{
		Method:                  model.MethodNative,
		BadgeEnabled:            true,
		StatusBarIconEnabled:    true,
		Persistent:              true,
		EnableAtLaunch:          false,
		MinimizeOnToggle:        true,
		FallbackToNative:        true,
		FastAppSwitchingEnabled: true,
		ForceFastAppSwitching:   false,
	}
}

// IsEmpty reports whether no field of r is set.
func (r Record) IsEmpty() bool {
	return r == Record{}
}

// Merge returns r with every field that is set in over replaced by over's value.
func (r Record) Merge(over Record) Record {
	out := r.clone()
	if over.Method != nil {
		out.Method = ptr(*over.Method)
	}
	mergeBool(&out.BadgeEnabled, over.BadgeEnabled)
	mergeBool(&out.StatusBarIconEnabled, over.StatusBarIconEnabled)
	mergeBool(&out.Persistent, over.Persistent)
	mergeBool(&out.EnableAtLaunch, over.EnableAtLaunch)
	mergeBool(&out.MinimizeOnToggle, over.MinimizeOnToggle)
	mergeBool(&out.FallbackToNative, over.FallbackToNative)
	mergeBool(&out.FastAppSwitchingEnabled, over.FastAppSwitchingEnabled)
	mergeBool(&out.ForceFastAppSwitching, over.ForceFastAppSwitching)
	return out
}

// applyTo overlays the set fields of r onto e.
func (r Record) applyTo(e Effective) Effective {
	if r.Method != nil {
		e.Method = *r.Method
	}
	applyBool(&e.BadgeEnabled, r.BadgeEnabled)
	applyBool(&e.StatusBarIconEnabled, r.StatusBarIconEnabled)
	applyBool(&e.Persistent, r.Persistent)
	applyBool(&e.EnableAtLaunch, r.EnableAtLaunch)
	applyBool(&e.MinimizeOnToggle, r.MinimizeOnToggle)
	applyBool(&e.FallbackToNative, r.FallbackToNative)
	applyBool(&e.FastAppSwitchingEnabled, r.FastAppSwitchingEnabled)
	applyBool(&e.ForceFastAppSwitching, r.ForceFastAppSwitching)
	return e
}

// Validate checks that every set field holds a usable value.
func (r Record) Validate() error {
	if r.Method != nil && !r.Method.Valid() {
		return &InvalidRecordError{Field: "backgroundingMethod", Value: int(*r.Method)}
	}
	return nil
}

func (r Record) clone() Record {
	out := Record{}
	if r.Method != nil {
		out.Method = ptr(*r.Method)
	}
	out.BadgeEnabled = cloneBool(r.BadgeEnabled)
	out.StatusBarIconEnabled = cloneBool(r.StatusBarIconEnabled)
	out.Persistent = cloneBool(r.Persistent)
	out.EnableAtLaunch = cloneBool(r.EnableAtLaunch)
	out.MinimizeOnToggle = cloneBool(r.MinimizeOnToggle)
	out.FallbackToNative = cloneBool(r.FallbackToNative)
	out.FastAppSwitchingEnabled = cloneBool(r.FastAppSwitchingEnabled)
	out.ForceFastAppSwitching = cloneBool(r.ForceFastAppSwitching)
	return out
}

// Document is the persisted preference file.
type Document struct {
	FirstRun       *bool             `toml:"firstRun,omitempty" json:"firstRun,omitempty"`
	CurrentVersion string            `toml:"currentVersion,omitempty" json:"currentVersion,omitempty"`
	Global         Record            `toml:"global" json:"global"`
	Overrides      map[string]Record `toml:"overrides,omitempty" json:"overrides,omitempty"`

	// Keys written by releases that predate per-application overrides.
	BadgeEnabledForAll *bool    `toml:"badgeEnabledForAll,omitempty" json:"badgeEnabledForAll,omitempty"`
	BlacklistedApps    []string `toml:"blacklistedApplications,omitempty" json:"blacklistedApplications,omitempty"`
	EnabledApps        []string `toml:"enabledApplications,omitempty" json:"enabledApplications,omitempty"`
}

// Effective resolves the preferences for appID. An empty appID or GlobalKey
// yields the global record.
func (d *Document) Effective(appID string) Effective {
	e := d.Global.applyTo(Defaults())
	if appID == "" || appID == GlobalKey {
		return e
	}
	if ov, ok := d.Overrides[appID]; ok {
		e = ov.applyTo(e)
	}
	return e
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := &Document{
		FirstRun:           cloneBool(d.FirstRun),
		CurrentVersion:     d.CurrentVersion,
		Global:             d.Global.clone(),
		BadgeEnabledForAll: cloneBool(d.BadgeEnabledForAll),
		BlacklistedApps:    append([]string(nil), d.BlacklistedApps...),
		EnabledApps:        append([]string(nil), d.EnabledApps...),
	}
	if d.Overrides != nil {
		out.Overrides = make(map[string]Record, len(d.Overrides))
		for id, rec := range d.Overrides {
			out.Overrides[id] = rec.clone()
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return ptr(*b)
}

func mergeBool(dst **bool, src *bool) {
	if src != nil {
		*dst = ptr(*src)
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
