package domain

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrIntentNotFound   = errors.New("PaymentIntent not found")
	ErrProcessing       = errors.New("webhook_processing_failed")
	ErrRateLimited      = errors.New("rate_limited")
	ErrInvalidID        = errors.New("invalid_id")
	ErrLogNotFound      = errors.New("webhook_log_not_found")
	ErrForbidden        = errors.New("forbidden")
	ErrReplayInProgress = errors.New("replay_in_progress")
)
