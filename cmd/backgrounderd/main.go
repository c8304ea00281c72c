// Command backgrounderd runs the background execution policy manager: it
// serves preference and lifecycle APIs over HTTP and mediates host lifecycle
// events received on a Unix or vsock socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/seantiz/backgrounder/internal/api"
	"github.com/seantiz/backgrounder/internal/config"
	"github.com/seantiz/backgrounder/internal/eventsource"
	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/policy"
	"github.com/seantiz/backgrounder/internal/prefs"
	"github.com/seantiz/backgrounder/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("backgrounderd: exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("backgrounderd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"prefs_path", cfg.PrefsPath,
		"event_network", cfg.EventNetwork,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	journal := store.NewJournal(db, cfg.JournalBuffer, logger)
	defer journal.Close()

	backend := prefs.NewFileBackend(cfg.PrefsPath)
	ps := prefs.NewStore(backend, cfg.Version, logger)
	if err := ps.Load(ctx); err != nil {
		// Load already fell back to defaults.
		logger.Warn("serving default preferences", "error", err)
	}
	if ps.FirstRun() {
		logger.Info("first run, preferences initialised", "path", backend.Path())
	}

	diags := policy.NewDiagnostics(journal, logger)
	resolver := policy.NewResolver(ps, policy.Options{DisableSimulated: cfg.DisableSimulated}, diags, logger)
	bridge := eventsource.NewBridge()
	mediator := lifecycle.NewMediator(resolver, bridge, journal, diags, logger)
	ps.Subscribe(func(*prefs.Document) { mediator.NotifyPolicyChange() })

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	fail := func(err error) {
		errCh <- err
		stop()
	}

	wg.Go(func() {
		if err := mediator.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			fail(fmt.Errorf("mediator: %w", err))
		}
	})

	watcher, err := prefs.NewWatcher(backend.Path(), ps, cfg.WatchDebounce, logger)
	if err != nil {
		logger.Warn("preference watcher disabled", "error", err)
	} else {
		defer watcher.Close()
		wg.Go(func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("preference watcher stopped", "error", err)
			}
		})
	}

	if cfg.EventNetwork != config.NetworkNone {
		ln, err := listenEvents(cfg)
		if err != nil {
			return err
		}
		listener := eventsource.NewListener(ln, bridge.Handler(mediator), logger)
		logger.Info("event listener ready", "network", cfg.EventNetwork, "addr", ln.Addr().String())
		wg.Go(func() {
			if err := listener.Serve(ctx); err != nil {
				fail(fmt.Errorf("event listener: %w", err))
			}
		})
	}

	srv := api.NewServer(cfg.ListenAddr, db, ps, resolver, mediator, logger)
	if err := srv.Run(ctx); err != nil {
		fail(err)
	}

	stop()
	mediator.Broker().Close()
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func listenEvents(cfg config.Config) (net.Listener, error) {
	switch cfg.EventNetwork {
	case config.NetworkVsock:
		return eventsource.ListenVsock(cfg.VsockPort)
	default:
		return eventsource.ListenUnix(cfg.SocketPath)
	}
}
