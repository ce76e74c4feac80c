package domain

import "errors"

var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrNoResendableFailures = errors.New("no resendable failures")
)
