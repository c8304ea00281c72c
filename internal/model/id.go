package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for events, transitions and diagnostics.
func NewID() string {
	return ulid.Make().String()
}
