package webhook

import "errors"

var (
	ErrDeliveryFailed    = errors.New("webhook delivery failed")
	ErrPermanentFailure  = errors.New("permanent webhook failure")
	ErrTemporaryFailure  = errors.New("temporary webhook failure")
	ErrCircuitOpen       = errors.New("webhook circuit breaker is open")
	ErrInvalidURL        = errors.New("invalid webhook URL")
	ErrMissingSecret     = errors.New("webhook secret is required")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrSignatureExpired  = errors.New("webhook signature expired")
	ErrMissingSignatures = errors.New("missing webhook signature headers")
)
