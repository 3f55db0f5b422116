package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Risk engine errors
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrClientBlocked      = errors.New("client is temporarily blocked")
	ErrUnknownAttemptType = errors.New("unknown attempt type")
	ErrVersionConflict    = errors.New("concurrent update detected")
)
