package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrSetupTimeout means the AI leg did not connect within the setup bound.
	ErrSetupTimeout = errors.New("bridge: upstream setup timed out")

	// ErrTransportClosed means a leg's socket is already closed.
	ErrTransportClosed = errors.New("bridge: transport closed")
)

// SendError is a failed write to one leg. It marks that leg closed and is
// never propagated out of the relay loops.
type SendError struct {
	Leg string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send on %s leg: %v", e.Leg, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
