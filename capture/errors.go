package capture

import (
	"errors"
	"fmt"
)

// ErrNoActiveCapture is returned by Stop and Poll when no supervision unit
// is running.
var ErrNoActiveCapture = errors.New("no active capture unit")

// AcquisitionError reports that the capture unit could not be brought up:
// a device was unavailable or one of the subprocesses died during launch.
// It is surfaced synchronously to the caller and never retried.
type AcquisitionError struct {
	Reason string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture acquisition failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("capture acquisition failed: %s", e.Reason)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// ProcessError reports that a running capture unit crashed or could not be
// stopped cleanly. Partial output files are left on disk for recovery.
type ProcessError struct {
	Reason   string
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture process failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("capture process failure: %s", e.Reason)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
