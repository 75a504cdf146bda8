package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureUnavailable is returned by [Controller.Start] when the
	// microphone or a playback context could not be opened. The controller
	// returns to [StateIdle] and no channel is dialed.
	ErrCaptureUnavailable = errors.New("session: capture unavailable")

	// ErrActive is returned by [Controller.Start] when a session is already
	// connecting or live.
	ErrActive = errors.New("session: already active")

	// ErrStopped is returned by [Controller.Start] when [Controller.Stop] was
	// called before the session went live.
	ErrStopped = errors.New("session: stopped while connecting")
)

// SessionError reports a channel-level failure that ended a session. The
// session is torn down and not retried.
type SessionError struct {
	// SessionID identifies the failed session.
	SessionID string

	// Op is the phase that failed: "dial" or "receive".
	Op string

	// Err is the underlying failure.
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ExportError reports a failure to build or write a recording. It never
// affects the session state.
type ExportError struct {
	// Path is the destination file, empty when exporting to a writer.
	Path string

	// Err is the underlying failure.
	Err error
}

func (e *ExportError) Error() string {
	if e.Path == "" {
		return "session: export: " + e.Err.Error()
	}
	return fmt.Sprintf("session: export %s: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
