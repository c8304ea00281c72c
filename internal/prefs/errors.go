package prefs

import (
	"errors"
	"fmt"
)

// ErrNotExist is returned by a Backend when no preferences have been saved yet.
var ErrNotExist = errors.New("preferences do not exist")

// InvalidRecordError reports a preference field holding an unusable value.
type InvalidRecordError struct {
	Field string
	Value int
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid value %d for preference %q", e.Value, e.Field)
}
