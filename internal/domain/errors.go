package domain

import "errors"

// Sentinel errors shared across the engine. Callers match with errors.Is.
var (
	// ErrNotFound means an unknown workspace, firm, run, or request ID
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the caller may not act on the workspace
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyExecuting means another execution attempt holds the
	// in-flight guard for the request; callers should try again later
	ErrAlreadyExecuting = errors.New("request is already executing")

	// ErrInvalidTransition means a lifecycle transition was rejected
	ErrInvalidTransition = errors.New("invalid transition")
)
