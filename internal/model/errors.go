package model

import "errors"

// Error taxonomy shared by the service and handler layers. Wrap with %w, match with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrMaxRollbackExceeded = errors.New("max rollback exceeded")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
)
