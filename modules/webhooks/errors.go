package webhooks

import "errors"

var (
	// ErrWebhookNotFound is returned when an operation references a webhook
	// id the registry does not know.
	ErrWebhookNotFound = errors.New("webhooks: webhook not found")

	// ErrWebhookNotConfigured is returned when a delivery is triggered for
	// a webhook whose metadata was never seeded.
	ErrWebhookNotConfigured = errors.New("webhooks: webhook metadata not configured")

	// ErrInvalidCursor is returned for log listing cursors that were not
	// produced by a previous listing.
	ErrInvalidCursor = errors.New("webhooks: invalid log cursor")
)
