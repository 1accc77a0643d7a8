package avatar

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned by Speak when no session is ready.
var ErrNoSession = errors.New("no active avatar session")

// SessionCreateError reports a failed or incomplete session-create call.
type SessionCreateError struct {
	Reason string
	Err    error
}

func (e *SessionCreateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create avatar session: %s: %v", e.Reason, e.Err)
	}
	return "create avatar session: " + e.Reason
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// TokenCreateError reports a failed or incomplete token-create call.
type TokenCreateError struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *TokenCreateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create token for session %s: %s: %v", e.SessionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("create token for session %s: %s", e.SessionID, e.Reason)
}

func (e *TokenCreateError) Unwrap() error { return e.Err }

// IsHandshakeError reports whether err came from session or token creation.
func IsHandshakeError(err error) bool {
	var sessionErr *SessionCreateError
	var tokenErr *TokenCreateError
	return errors.As(err, &sessionErr) || errors.As(err, &tokenErr)
}
