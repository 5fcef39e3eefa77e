package ratelimiter

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid rate limit configuration")
	ErrInvalidTokenCount = errors.New("invalid token count")
	ErrUnknownStore      = errors.New("unknown rate limit store")
	ErrUnexpectedReply   = errors.New("unexpected rate limit script reply")
)
