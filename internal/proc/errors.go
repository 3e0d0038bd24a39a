package proc

import "errors"

var (
	// ErrLaunch means the executable could not be started.
	ErrLaunch = errors.New("process launch failed")
	// ErrInterrupted means the wait for exit was cancelled or timed out.
	// The child has been killed and reaped when this is returned.
	ErrInterrupted = errors.New("process interrupted")
)
