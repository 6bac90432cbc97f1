package common

import "errors"

// Shared validation errors. Modules wrap these so callers can match the
// category with errors.Is regardless of which component rejected the call.
var (
	ErrSameValue    = errors.New("same value")
	ErrUnauthorized = errors.New("unauthorized")
	ErrZeroAddress  = errors.New("zero address")
	ErrZeroAmount   = errors.New("zero amount")
	ErrInvalidRatio = errors.New("ratio exceeds 100%")
)
