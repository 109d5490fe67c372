package domain

import "errors"

// Sentinel errors surfaced by stores and coordinators, translated to HTTP
// status codes at the control-plane edge.
var (
	ErrNotFound          = errors.New("not found")
	ErrLeaseMismatch     = errors.New("lease mismatch")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTerminalScenario  = errors.New("scenario is in a terminal state")
	ErrMissingRequiredRole = errors.New("required role has no live engine")
	ErrCorruptedSnapshot = errors.New("corrupted state snapshot")
	ErrValidation        = errors.New("validation error")
)
