package review

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)

// MappingError reports a raw backend document that could not be mapped into
// the domain shape. Optional sub-fields never produce a MappingError; only
// the required core fields do.
type MappingError struct {
	DocID  string
	Detail string
}

func (e *MappingError) Error() string {
	if e.DocID == "" {
		return "document mapping failed: " + e.Detail
	}
	return fmt.Sprintf("document %s mapping failed: %s", e.DocID, e.Detail)
}
