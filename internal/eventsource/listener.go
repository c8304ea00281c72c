package eventsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/seantiz/backgrounder/internal/model"
)

// Handler answers one lifecycle event.
type Handler interface {
	HandleEvent(ctx context.Context, ev model.Event) Reply
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, ev model.Event) Reply

// HandleEvent calls f(ctx, ev).
func (f HandlerFunc) HandleEvent(ctx context.Context, ev model.Event) Reply {
	return f(ctx, ev)
}

// Listener accepts host connections and answers each Request with a Reply.
// A connection may carry any number of requests; each is answered before
// the next is read.
type Listener struct {
	ln      net.Listener
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewListener creates a listener serving ln.
func NewListener(ln net.Listener, handler Handler, logger *slog.Logger) *Listener {
	return &Listener{
		ln:      ln,
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// ListenUnix listens on a Unix socket at path, replacing a stale socket file.
func ListenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return ln, nil
}

// ListenVsock listens on a vsock port of the local context.
func ListenVsock(port uint32) (net.Listener, error) {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsock listen on port %d: %w", port, err)
	}
	return ln, nil
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is done or the listener is closed. It
// waits for open connections to finish before returning.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		l.track(conn, true)
		l.wg.Go(func() {
			defer l.track(conn, false)
			l.handleConnection(ctx, conn)
		})
	}
}

// Close stops accepting and closes every open connection.
func (l *Listener) Close() error {
	err := l.ln.Close()

	l.mu.Lock()
	l.closed = true
	for c := range l.conns {
		c.Close()
	}
	l.mu.Unlock()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (l *Listener) track(c net.Conn, add bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		if l.closed {
			c.Close()
			return
		}
		l.conns[c] = struct{}{}
		return
	}
	delete(l.conns, c)
}

// handleConnection answers requests on conn until the peer hangs up.
func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.logger.Warn("read event request", "error", err)
				if werr := WriteMessage(conn, &Reply{Error: err.Error()}); werr != nil {
					l.logger.Debug("write error reply", "error", werr)
				}
			}
			return
		}

		ev := req.Event
		if ev.ID == "" {
			ev.ID = model.NewID()
		}
		if ev.At.IsZero() {
			ev.At = time.Now().UTC()
		}

		eventsReceivedTotal.WithLabelValues(typeLabel(ev.Type)).Inc()
		reply := l.handler.HandleEvent(ctx, ev)

		if err := WriteMessage(conn, &reply); err != nil {
			l.logger.Warn("write event reply", "app_id", ev.AppID, "error", err)
			return
		}
	}
}
