package eventsource

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/seantiz/backgrounder/internal/model"
)

// Retry defaults for connection establishment.
const (
	dialMaxRetries  = 5
	dialBaseBackoff = 100 * time.Millisecond
)

// Client sends lifecycle events to a Listener. A Client is used by a single
// goroutine.
type Client struct {
	conn net.Conn
}

// Dial connects to a listener on network ("unix" or "tcp") at addr, retrying
// with exponential backoff.
func Dial(ctx context.Context, network, addr string) (*Client, error) {
	dialer := net.Dialer{}
	return dialWithRetry(ctx, func() (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	})
}

// DialVsock connects to a listener on the vsock port of context cid.
func DialVsock(ctx context.Context, cid, port uint32) (*Client, error) {
	return dialWithRetry(ctx, func() (net.Conn, error) {
		return vsock.Dial(cid, port, nil)
	})
}

func dialWithRetry(ctx context.Context, dial func() (net.Conn, error)) (*Client, error) {
	var lastErr error
	backoff := dialBaseBackoff

	for attempt := range dialMaxRetries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial event listener: %w", ctx.Err())
		default:
		}

		conn, err := dial()
		if err != nil {
			lastErr = err
			if attempt < dialMaxRetries-1 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, fmt.Errorf("dial event listener: %w", ctx.Err())
				}
				backoff *= 2
			}
			continue
		}

		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set deadline: %w", err)
			}
		}
		return &Client{conn: conn}, nil
	}

	return nil, fmt.Errorf("dial event listener after %d attempts: %w", dialMaxRetries, lastErr)
}

// Send delivers ev and waits for the reply. A reply carrying an error is
// returned together with that error.
func (c *Client) Send(ev model.Event) (Reply, error) {
	if err := WriteMessage(c.conn, &Request{Event: ev}); err != nil {
		return Reply{}, fmt.Errorf("send event: %w", err)
	}

	var reply Reply
	if err := ReadMessage(c.conn, &reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	if reply.Error != "" {
		return reply, fmt.Errorf("event rejected: %s", reply.Error)
	}
	return reply, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
