package session

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by Trigger, RunTurn and EndSession while a turn is running.
var ErrBusy = errors.New("a turn is already in progress")

// ErrClosed is returned once the controller has been shut down.
var ErrClosed = errors.New("session controller closed")

// StageError names the pipeline stage that failed. The underlying
// audio.DeviceError, audio.EncodingError or remote.ServiceError stays
// reachable through errors.As.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
