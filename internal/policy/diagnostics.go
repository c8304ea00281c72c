package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/backgrounder/internal/model"
)

// DiagnosticSink receives diagnostics the first time they occur.
type DiagnosticSink interface {
	RecordDiagnostic(ctx context.Context, d model.Diagnostic) error
}

// Diagnostics reports each diagnostic code at most once per process.
// It is safe for concurrent use.
type Diagnostics struct {
	mu     sync.Mutex
	seen   map[string]bool
	sink   DiagnosticSink
	logger *slog.Logger
}

// NewDiagnostics creates a reporter. sink may be nil.
func NewDiagnostics(sink DiagnosticSink, logger *slog.Logger) *Diagnostics {
	return &Diagnostics{
		seen:   make(map[string]bool),
		sink:   sink,
		logger: logger,
	}
}

// Once reports code the first time it is seen and returns true; later calls
// return false and do nothing.
func (d *Diagnostics) Once(code, message string) bool {
	d.mu.Lock()
	if d.seen[code] {
		d.mu.Unlock()
		return false
	}
	d.seen[code] = true
	d.mu.Unlock()

	diagnosticsTotal.WithLabelValues(code).Inc()
	d.logger.Warn("degraded backgrounding", "code", code, "message", message)

	if d.sink != nil {
		diag := model.Diagnostic{
			ID:        model.NewID(),
			Code:      code,
			Message:   message,
			CreatedAt: time.Now().UTC(),
		}
		if err := d.sink.RecordDiagnostic(context.Background(), diag); err != nil {
			d.logger.Error("record diagnostic", "code", code, "error", err)
		}
	}
	return true
}

// Seen reports whether code has been reported.
func (d *Diagnostics) Seen(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[code]
}
