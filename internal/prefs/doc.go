// Package prefs holds the global and per-application backgrounding
// preferences. Readers always see an immutable snapshot; writers clone the
// current document, apply their change, persist it and swap the snapshot in,
// so lookups made from inside a lifecycle callback never block or observe a
// half-applied update.
package prefs
