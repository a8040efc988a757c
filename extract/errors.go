package extract

import (
	"errors"
	"fmt"
)

// SessionError marks a failure of the extraction session itself. The
// caller may retry the target after re-acquiring a fresh session.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// TargetError marks a failure specific to one target's fetch or parse.
// Retrying with a fresh session will not help.
type TargetError struct {
	TargetID string
	Err      error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %s: %v", e.TargetID, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

// IsSessionError reports whether err is session-level, meaning a retry
// with a freshly acquired session is warranted.
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

// IsTargetError reports whether err is specific to a single target.
func IsTargetError(err error) bool {
	var te *TargetError
	return errors.As(err, &te)
}

// ErrInitializing is returned by Acquire when another caller is already
// opening a session; callers are rejected rather than queued.
var ErrInitializing = errors.New("session acquisition already in progress")
