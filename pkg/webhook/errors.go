package webhook

import "errors"

var (
	// ErrInvalidURL indicates the destination URL is missing or malformed.
	ErrInvalidURL = errors.New("invalid webhook URL")

	// ErrInvalidPayload indicates an empty or unusable payload.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrInvalidConfiguration indicates a missing or unusable signing secret.
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")

	// ErrTimeout indicates the destination did not respond in time.
	ErrTimeout = errors.New("webhook request timed out")

	// ErrDeliveryFailed indicates a transport-level send failure.
	ErrDeliveryFailed = errors.New("webhook delivery failed")

	// ErrInvalidSignature indicates a malformed or mismatching signature.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrSignatureExpired indicates the signature timestamp fell outside the
	// accepted age window.
	ErrSignatureExpired = errors.New("webhook signature expired")
)
