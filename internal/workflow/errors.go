package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrCommentRequired   = errors.New("comment required")
)

// PermissionError reports a role-gated denial for a specific action. Reason
// carries the user-facing explanation, e.g. "This action requires PCM role".
type PermissionError struct {
	ActionID string
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("action %s: %s", e.ActionID, e.Reason)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}
