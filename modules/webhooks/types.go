package webhooks

import "time"

const (
	// webhookIDPrefix and webhookSecretPrefix mark the token families used
	// for subscription identifiers and signing secrets.
	webhookIDPrefix     = "wbhk_"
	webhookSecretPrefix = "wbhk_sec_"
	// eventIDPrefix marks event ids assigned at ingress.
	eventIDPrefix = "evt_"
)

// Subscription binds a tenant's callback URL and signing secret to a set of
// event-type filter patterns.
type Subscription struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"userID"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"createdAt"`
	// LastExecuted and LastStatus reflect the most recent delivery outcome
	// recorded by the dispatcher; nil until the first delivery.
	LastExecuted *time.Time `json:"lastExecuted"`
	LastStatus   *int       `json:"lastStatus"`
}

// Event is a single occurrence delivered to matching subscriptions.
// The tenant id is stripped before the event goes out to a subscriber.
type Event struct {
	ID       string         `json:"id"`
	Type     string         `json:"event"`
	TenantID string         `json:"userID,omitempty"`
	Payload  map[string]any `json:"object,omitempty"`
	// RepeatCount is the 0-indexed delivery attempt number for this event
	// on one webhook. Owned exclusively by that webhook's actor.
	RepeatCount int `json:"repeat_count"`
}

// DeliveryReport is the immutable outcome of one delivery attempt.
// Status 0 means the send failed before an HTTP status was received.
type DeliveryReport struct {
	CreatedAt time.Time `json:"createdAt"`
	Status    int       `json:"status"`
	Event     Event     `json:"event"`
	// Response is the subscriber's parsed response body: decoded JSON for
	// JSON content types, a string for text/*, nil otherwise.
	Response any `json:"response"`
}

// LogEntry is a delivery report as returned from the log listing, together
// with its storage key.
type LogEntry struct {
	DeliveryReport
	Key string `json:"key"`
}

// actorState is the durable per-webhook snapshot: subscription metadata and
// the pending retry queue. Persisted after every mutation.
type actorState struct {
	Meta       Subscription `json:"meta"`
	RetryQueue []Event      `json:"retry_queue"`
}
