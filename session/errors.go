package session

import "errors"

// ErrSessionActive is returned when Start is called while another session is
// in a non-terminal state. It is surfaced synchronously and never retried.
var ErrSessionActive = errors.New("another recording session is already active")

// ErrNoActiveSession is returned when Stop finds nothing to stop: the machine
// is idle, or the session is already stopping or stopped.
var ErrNoActiveSession = errors.New("no active recording session")
