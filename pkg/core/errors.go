package core

import "errors"

// Common errors. Callers classify failures with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidPatch    = errors.New("invalid merge patch")
	ErrInvalidDocument = errors.New("invalid document")
)
