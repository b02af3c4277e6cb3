package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("entity not found")
	ErrUnsupported = errors.New("service not supported")
	ErrInvalidData = errors.New("invalid service data")
	ErrExists      = errors.New("entity already registered")
)

// CommandError reports a failed command on one entity. Other entities are
// unaffected.
type CommandError struct {
	EntityID string
	Service  string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.EntityID, e.Service, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
