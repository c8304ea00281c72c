package prefs

import "github.com/seantiz/backgrounder/internal/model"

// Migrate converts legacy flat keys into the override-record shape and stamps
// the document with version. Fields already set in an override are left
// alone. The returned flag reports whether anything changed; running Migrate
// on its own output always reports false.
func Migrate(d *Document, version string) (*Document, bool) {
	out := d.Clone()
	changed := false

	if out.BadgeEnabledForAll != nil {
		if out.Global.BadgeEnabled == nil {
			out.Global.BadgeEnabled = ptr(*out.BadgeEnabledForAll)
		}
		out.BadgeEnabledForAll = nil
		changed = true
	}

	if len(out.BlacklistedApps) > 0 {
		for _, id := range out.BlacklistedApps {
			rec := out.override(id)
			if rec.Method == nil {
				rec.Method = ptr(model.MethodOff)
			}
			out.Overrides[id] = rec
		}
		changed = true
	}
	if out.BlacklistedApps != nil {
		out.BlacklistedApps = nil
	}

	if len(out.EnabledApps) > 0 {
		for _, id := range out.EnabledApps {
			rec := out.override(id)
			if rec.Method == nil {
				rec.Method = ptr(model.MethodBackgrounder)
			}
			if rec.EnableAtLaunch == nil {
				rec.EnableAtLaunch = ptr(true)
			}
			out.Overrides[id] = rec
		}
		changed = true
	}
	if out.EnabledApps != nil {
		out.EnabledApps = nil
	}

	if version != "" && out.CurrentVersion != version {
		out.CurrentVersion = version
		changed = true
	}

	return out, changed
}

// override returns the existing override for id, allocating the map if needed.
func (d *Document) override(id string) Record {
	if d.Overrides == nil {
		d.Overrides = make(map[string]Record)
	}
	return d.Overrides[id]
}
