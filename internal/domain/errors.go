package domain

import "errors"

// Error taxonomy for the streaming pipeline. Unauthorized is a hard
// stop; TokenExpired tells the client to re-authenticate silently
// instead of prompting; FetchFailure is retryable on the next trigger.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
	ErrNotFound     = errors.New("not found")
	ErrFetchFailure = errors.New("fetch failure")
)
