package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/seantiz/backgrounder/internal/model"
)

// defaultJournalBuffer is the number of pending records the journal holds
// before it starts dropping them.
const defaultJournalBuffer = 256

// Journal writes transitions and diagnostics to a Store on a background
// goroutine so that callers on the lifecycle path never wait on disk I/O.
// Records are dropped, with an error log, when the buffer is full.
type Journal struct {
	store  Store
	logger *slog.Logger
	queue  chan journalEntry
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type journalEntry struct {
	transition *model.Transition
	diagnostic *model.Diagnostic
}

// NewJournal starts a journal writing to s. buffer <= 0 uses the default size.
func NewJournal(s Store, buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	j := &Journal{
		store:  s,
		logger: logger,
		queue:  make(chan journalEntry, buffer),
	}
	j.wg.Go(j.run)
	return j
}

// RecordTransition queues t for writing. It never blocks.
func (j *Journal) RecordTransition(_ context.Context, t model.Transition) error {
	j.enqueue(journalEntry{transition: &t})
	return nil
}

// RecordDiagnostic queues d for writing. It never blocks.
func (j *Journal) RecordDiagnostic(_ context.Context, d model.Diagnostic) error {
	j.enqueue(journalEntry{diagnostic: &d})
	return nil
}

// Close flushes queued records and stops the writer. It does not close the
// underlying store.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Journal) enqueue(e journalEntry) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("journal closed, record dropped")
		return
	}
	select {
	case j.queue <- e:
	default:
		j.logger.Error("journal buffer full, record dropped")
	}
}

func (j *Journal) run() {
	for e := range j.queue {
		ctx := context.Background()
		switch {
		case e.transition != nil:
			if err := j.store.RecordTransition(ctx, *e.transition); err != nil {
				j.logger.Error("persist transition", "app_id", e.transition.AppID, "error", err)
			}
		case e.diagnostic != nil:
			if err := j.store.RecordDiagnostic(ctx, *e.diagnostic); err != nil {
				j.logger.Error("persist diagnostic", "code", e.diagnostic.Code, "error", err)
			}
		}
	}
}
