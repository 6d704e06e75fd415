package training

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates an unusable orchestrator configuration.
	ErrInvalidConfig = errors.New("training: invalid configuration")

	// ErrNoLabels indicates the label holder loaded a partition without a
	// label column.
	ErrNoLabels = errors.New("training: label holder has no labels")

	// ErrNoTrainingRows indicates the train fraction selects no sample.
	ErrNoTrainingRows = errors.New("training: no training rows")

	// ErrAlreadyRun indicates Run was called a second time.
	ErrAlreadyRun = errors.New("training: run already started")
)

// Error reports the state in which a run aborted.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("training.%s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
