package ratelimit

import "errors"

// ErrRateLimitExceeded is returned when no token is available within the allowed wait.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")
