package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Backend persists preference documents.
type Backend interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, d *Document) error
}

// Store serves preference lookups from an immutable snapshot. It is safe for
// concurrent use; Get never blocks.
type Store struct {
	backend Backend
	version string
	logger  *slog.Logger

	current  atomic.Pointer[Document]
	firstRun atomic.Bool

	// writeMu serialises writers; readers never take it.
	writeMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []func(*Document)
}

// NewStore creates a store that serves defaults until Load is called.
func NewStore(backend Backend, version string, logger *slog.Logger) *Store {
	s := &Store{
		backend: backend,
		version: version,
		logger:  logger,
	}
	s.current.Store(&Document{})
	return s
}

// Load reads the backend once at startup, migrating legacy keys. An unreadable
// or corrupt backend leaves the store serving defaults; the error is logged
// and returned for information only.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotExist):
		s.firstRun.Store(true)
		doc = &Document{}
	case err != nil:
		s.logger.Warn("preferences unreadable, using defaults", "error", err)
		s.current.Store(&Document{})
		return fmt.Errorf("load preferences: %w", err)
	}

	if doc.FirstRun != nil && *doc.FirstRun {
		s.firstRun.Store(true)
	}

	migrated, changed := Migrate(doc, s.version)
	if s.firstRun.Load() {
		migrated.FirstRun = ptr(false)
		changed = true
	}
	if changed {
		if err := s.backend.Save(ctx, migrated); err != nil {
			// The migrated document is still served; the next successful
			// write persists it.
			s.logger.Warn("persist migrated preferences", "error", err)
		} else {
			s.logger.Info("preferences migrated", "version", migrated.CurrentVersion)
		}
	}

	s.current.Store(migrated)
	return nil
}

// Reload re-reads the backend after a change notification. On failure the
// last good snapshot stays in place.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	doc, err := s.backend.Load(ctx)
	if err != nil {
		s.writeMu.Unlock()
		s.logger.Warn("reload preferences, keeping previous snapshot", "error", err)
		return fmt.Errorf("reload preferences: %w", err)
	}
	migrated, _ := Migrate(doc, s.version)
	s.current.Store(migrated)
	s.writeMu.Unlock()

	s.notify(migrated)
	return nil
}

// Snapshot returns the document currently being served. Callers must not
// modify it.
func (s *Store) Snapshot() *Document {
	return s.current.Load()
}

// FirstRun reports whether Load found no previously saved preferences.
func (s *Store) FirstRun() bool {
	return s.firstRun.Load()
}

// Get returns the effective preferences for appID.
func (s *Store) Get(appID string) Effective {
	return s.current.Load().Effective(appID)
}

// Override returns the override record for appID, if any.
func (s *Store) Override(appID string) (Record, bool) {
	rec, ok := s.current.Load().Overrides[appID]
	return rec.clone(), ok
}

// Set merges a partial record into the override for appID (or into the global
// record for GlobalKey) and persists the result.
func (s *Store) Set(ctx context.Context, appID string, rec Record) error {
	if appID == "" {
		return fmt.Errorf("set preferences: application id is required")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("set preferences: %w", err)
	}
	return s.update(ctx, func(d *Document) {
		if appID == GlobalKey {
			d.Global = d.Global.Merge(rec)
			return
		}
		d.Overrides[appID] = d.override(appID).Merge(rec)
	})
}

// Reset removes the override for appID, or clears the global record for
// GlobalKey.
func (s *Store) Reset(ctx context.Context, appID string) error {
	return s.update(ctx, func(d *Document) {
		if appID == GlobalKey {
			d.Global = Record{}
			return
		}
		delete(d.Overrides, appID)
	})
}

// Subscribe registers fn to be called with the new snapshot after every
// successful change. fn runs on the goroutine that made the change.
func (s *Store) Subscribe(fn func(*Document)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) update(ctx context.Context, mutate func(*Document)) error {
	s.writeMu.Lock()
	next := s.current.Load().Clone()
	if next.Overrides == nil {
		next.Overrides = make(map[string]Record)
	}
	mutate(next)

	if err := s.backend.Save(ctx, next); err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("save preferences: %w", err)
	}
	s.current.Store(next)
	s.writeMu.Unlock()

	s.notify(next)
	return nil
}

func (s *Store) notify(d *Document) {
	s.listenersMu.Lock()
	listeners := append([]func(*Document){}, s.listeners...)
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(d)
	}
}
