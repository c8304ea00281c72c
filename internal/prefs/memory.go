package prefs

import (
	"context"
	"sync"
)

// Compile-time interface satisfaction check.
var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps the document in memory. It is used by tests and by the
// test server.
type MemoryBackend struct {
	mu      sync.Mutex
	doc     *Document
	LoadErr error
	SaveErr error
	Saves   int
}

// NewMemoryBackend returns a backend holding doc. A nil doc behaves like a
// missing preference file.
func NewMemoryBackend(doc *Document) *MemoryBackend {
	return &MemoryBackend{doc: doc}
}

// Load returns a copy of the stored document.
func (m *MemoryBackend) Load(_ context.Context) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.doc == nil {
		return nil, ErrNotExist
	}
	return m.doc.Clone(), nil
}

// Save stores a copy of d.
func (m *MemoryBackend) Save(_ context.Context, d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.doc = d.Clone()
	m.Saves++
	return nil
}
