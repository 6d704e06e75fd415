package sharechan

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the channel has been closed.
	ErrClosed = errors.New("sharechan: channel closed")

	// ErrTimeout indicates an operation exceeded its configured deadline.
	ErrTimeout = errors.New("sharechan: operation timed out")

	// ErrNilTransport indicates New was called without a transport.
	ErrNilTransport = errors.New("sharechan: transport must not be nil")
)

// EngineError attributes a failure to a single engine.
type EngineError struct {
	Op     string
	Engine EngineID
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("sharechan.%s: engine %d: %v", e.Op, e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
