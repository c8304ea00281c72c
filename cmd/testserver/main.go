// testserver starts a backgrounder API server with in-memory preferences and
// a stub host for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/backgrounder/internal/api"
	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/model"
	"github.com/seantiz/backgrounder/internal/policy"
	"github.com/seantiz/backgrounder/internal/prefs"
	"github.com/seantiz/backgrounder/internal/store"
)

// stubHost accepts every action and logs it.
type stubHost struct {
	logger *slog.Logger
}

func (h stubHost) Snapshot(appID string) (model.AppSnapshot, error) {
	return model.AppSnapshot{}, errors.New("stub host has no snapshots")
}

func (stubHost) Supports(model.Action) bool { return true }

func (h stubHost) Perform(_ context.Context, appID string, action model.Action) error {
	h.logger.Info("testserver: host action", "app_id", appID, "action", action)
	return nil
}

// stack is the wired server and the journal fronting its database.
type stack struct {
	server   *api.Server
	mediator *lifecycle.Mediator
	journal  *store.Journal
}

// newStack wires the API over db the way backgrounderd does. Transitions and
// diagnostics reach db through a journal so handlers never wait on writes.
func newStack(ctx context.Context, addr string, db store.Store, logger *slog.Logger) (*stack, error) {
	ps := prefs.NewStore(prefs.NewMemoryBackend(nil), "1.0.0", logger)
	if err := ps.Load(ctx); err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	journal := store.NewJournal(db, 0, logger)
	diags := policy.NewDiagnostics(journal, logger)
	resolver := policy.NewResolver(ps, policy.Options{}, diags, logger)
	mediator := lifecycle.NewMediator(resolver, stubHost{logger: logger}, journal, diags, logger)
	ps.Subscribe(func(*prefs.Document) { mediator.NotifyPolicyChange() })

	return &stack{
		server:   api.NewServer(addr, db, ps, resolver, mediator, logger),
		mediator: mediator,
		journal:  journal,
	}, nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("BACKGROUNDER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx, addr, db, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer st.journal.Close()

	go st.mediator.Run(ctx, nil)
	defer st.mediator.Broker().Close()

	logger.Info("testserver: starting", "addr", addr)
	if err := st.server.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
