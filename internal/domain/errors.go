package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrTooLate              = errors.New("too late to cancel")
	ErrConflict             = errors.New("conflict")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrUnauthorized         = errors.New("unauthorized")
)
