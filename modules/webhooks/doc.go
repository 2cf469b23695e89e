// Package webhooks implements the delivery and retry engine: subscription
// management per tenant, signed fan-out of events to subscriber endpoints,
// bounded redelivery of failures on a durable timer, and an append-only
// delivery log with cursor pagination.
//
// Concurrency model: many webhooks deliver in parallel, but all operations
// against a single webhook id are serialized through a per-key lock, so a
// webhook's retry queue is never mutated by two deliveries at once. Reads of
// the subscription list and the fan-out that follows are deliberately not
// transactional: a webhook deleted mid-dispatch may still receive one final
// delivery. Deliveries can duplicate when the process restarts between a
// send and its state write; subscribers must treat deliveries as
// at-least-once.
package webhooks
