package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyRotated indicates a concurrent request consumed the refresh
	// token first; the losing transaction was rolled back.
	ErrAlreadyRotated = errors.New("repository: refresh token already rotated")
	// ErrAlreadyRedeemed indicates the password reset token was consumed by
	// an earlier request.
	ErrAlreadyRedeemed = errors.New("repository: reset token already redeemed")
	// ErrStorageUnavailable indicates the backing store could not serve the
	// call at all: a statement timeout, a lost connection, or resource
	// exhaustion. Callers should answer with a retryable failure.
	ErrStorageUnavailable = errors.New("repository: storage unavailable")
)
