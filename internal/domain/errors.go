package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrDataIntegrity marks campaign misconfiguration that must be surfaced
	// to an operator, e.g. a contact whose next sequence step does not exist.
	ErrDataIntegrity = errors.New("data integrity violation")
)
