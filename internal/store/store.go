package store

import (
	"context"
	"errors"

	"github.com/seantiz/backgrounder/internal/model"
)

// ErrNotFound is returned when no record matches the query.
var ErrNotFound = errors.New("not found")

// TransitionStats holds aggregate lifecycle statistics.
type TransitionStats struct {
	Total         int            `json:"total"`
	CountByState  map[string]int `json:"count_by_state"`
	CountByMethod map[string]int `json:"count_by_method"`
	Forced        int            `json:"forced"`
	Apps          int            `json:"apps"`
}

// Store defines the persistence operations for lifecycle history.
type Store interface {
	RecordTransition(ctx context.Context, t model.Transition) error
	ListTransitions(ctx context.Context, appID string, limit, offset int) ([]model.Transition, int, error)
	LastTransition(ctx context.Context, appID string) (*model.Transition, error)
	GetTransitionStats(ctx context.Context) (*TransitionStats, error)
	RecordDiagnostic(ctx context.Context, d model.Diagnostic) error
	ListDiagnostics(ctx context.Context) ([]model.Diagnostic, error)
	Close() error
}
