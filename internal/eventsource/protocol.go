// Package eventsource carries lifecycle events from a host process to the
// mediator over a stream socket and returns the actions the host must take.
package eventsource

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/backgrounder/internal/model"
)

// MaxMessageSize is the maximum allowed message payload (1 MiB).
const MaxMessageSize = 1 << 20

// Request is sent by the host for every lifecycle event.
type Request struct {
	Event model.Event `json:"event"`
}

// Reply answers a Request. Actions lists every host action requested for the
// application since the previous reply, in order; it may include actions
// decided by a preference change between events.
type Reply struct {
	AppID   string         `json:"app_id"`
	State   model.State    `json:"state,omitempty"`
	Method  model.Method   `json:"method"`
	Action  model.Action   `json:"action,omitempty"`
	Actions []model.Action `json:"actions,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	// Prefix and payload go out in a single write.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
// It returns io.EOF unwrapped when r is exhausted between frames.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
