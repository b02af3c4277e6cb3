package coordinator

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by refreshes on a coordinator that was shut down.
var ErrShutdown = errors.New("coordinator shut down")

// UpdateFailedError marks a transient fetch failure. The previous snapshot
// is kept.
type UpdateFailedError struct {
	Name string
	Err  error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("%s: update failed: %v", e.Name, e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}
