package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/hookrelay/pkg/alarm"
	"github.com/dmitrymomot/hookrelay/pkg/keylock"
	"github.com/dmitrymomot/hookrelay/pkg/kv"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

// maxAttempts caps redeliveries per event per webhook. RepeatCount is
// 0-indexed: an event that keeps failing is sent with RepeatCount 0 through
// maxAttempts and then dropped.
const maxAttempts = 5

// Actors owns every webhook's delivery state machine. One logical actor
// exists per webhook id; all of its operations run under that id's lock and
// its state snapshot is persisted after every mutation, so the retry queue
// survives restarts and is never mutated concurrently.
type Actors struct {
	store   kv.Store
	locks   *keylock.Registry
	alarms  *alarm.Scheduler
	sender  *webhook.Sender
	log     *DeliveryLog
	backoff webhook.BackoffStrategy
	logger  *slog.Logger
}

// ActorsOption configures the actor runtime.
type ActorsOption func(*Actors)

// WithSender replaces the outbound HTTP sender.
func WithSender(sender *webhook.Sender) ActorsOption {
	return func(a *Actors) {
		if sender != nil {
			a.sender = sender
		}
	}
}

// WithBackoff replaces the redelivery delay policy. The default is the flat
// two-minute cadence.
func WithBackoff(strategy webhook.BackoffStrategy) ActorsOption {
	return func(a *Actors) {
		if strategy != nil {
			a.backoff = strategy
		}
	}
}

// WithLogger sets the logger for delivery outcomes.
func WithLogger(logger *slog.Logger) ActorsOption {
	return func(a *Actors) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewActors creates the actor runtime and registers its wake handler with
// the alarm scheduler: when a webhook's retry timer fires, the whole backlog
// for that webhook is redelivered.
func NewActors(store kv.Store, alarms *alarm.Scheduler, log *DeliveryLog, opts ...ActorsOption) *Actors {
	a := &Actors{
		store:   store,
		locks:   keylock.New(),
		alarms:  alarms,
		sender:  webhook.NewSender(),
		log:     log,
		backoff: webhook.DefaultBackoff(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	alarms.OnWake(a.handleWake)
	return a
}

func actorKey(webhookID string) string {
	return "actor:" + webhookID
}

// SetMeta seeds or refreshes the actor's subscription metadata. Called on
// webhook creation and defensively before every dispatch, since the actor
// may live on a node that has not seen this webhook yet.
func (a *Actors) SetMeta(ctx context.Context, sub Subscription) error {
	unlock := a.locks.Lock(sub.ID)
	defer unlock()

	state, _, err := a.loadState(ctx, sub.ID)
	if err != nil {
		return err
	}
	state.Meta = sub
	return a.saveState(ctx, sub.ID, state)
}

// Meta returns the actor's subscription metadata, if the actor exists.
func (a *Actors) Meta(ctx context.Context, webhookID string) (Subscription, bool, error) {
	state, ok, err := a.loadState(ctx, webhookID)
	if err != nil || !ok {
		return Subscription{}, false, err
	}
	return state.Meta, true, nil
}

// PendingRetries returns the events currently awaiting redelivery for the
// webhook.
func (a *Actors) PendingRetries(ctx context.Context, webhookID string) ([]Event, error) {
	state, _, err := a.loadState(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	return state.RetryQueue, nil
}

// Trigger executes one delivery attempt for the event against the webhook:
// sign, send, record the outcome, then either clear the event from the retry
// queue (success), re-queue it with a scheduled wake (retryable failure), or
// drop it (attempt budget exhausted). The report is returned synchronously
// whatever the outcome; only a signing failure is an error, since it means
// the webhook's secret is misconfigured and retrying cannot help.
func (a *Actors) Trigger(ctx context.Context, webhookID string, evt Event) (DeliveryReport, error) {
	unlock := a.locks.Lock(webhookID)
	defer unlock()

	state, ok, err := a.loadState(ctx, webhookID)
	if err != nil {
		return DeliveryReport{}, err
	}
	if !ok || state.Meta.ID == "" {
		return DeliveryReport{}, fmt.Errorf("%w: %s", ErrWebhookNotConfigured, webhookID)
	}

	// A queue entry for this event id means this is a repeat send.
	evt.RepeatCount = 0
	if previous, found := findEvent(state.RetryQueue, evt.ID); found {
		evt.RepeatCount = previous.RepeatCount + 1
	}

	// The tenant id is internal; subscribers never see it.
	evt.TenantID = ""

	payload, err := json.Marshal(evt)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("webhooks: encode event %s: %w", evt.ID, err)
	}

	timestamp := time.Now().UnixMilli()
	signature, err := webhook.Sign(state.Meta.Secret, timestamp, payload)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("webhooks: sign event %s for webhook %s: %w", evt.ID, webhookID, err)
	}

	result, sendErr := a.sender.Send(ctx, state.Meta.URL, payload, map[string]string{
		webhook.SignatureHeader: webhook.SignatureHeaderValue(timestamp, signature),
		webhook.WebhookIDHeader: webhookID,
	})

	// Transport failures follow the same retry path as non-200 responses;
	// status 0 marks "no HTTP response received".
	status := result.StatusCode
	if sendErr != nil {
		status = 0
		a.logger.Warn("webhook delivery failed",
			slog.String("webhook_id", webhookID),
			slog.String("event_id", evt.ID),
			slog.Int("repeat_count", evt.RepeatCount),
			slog.String("error", sendErr.Error()))
	}

	switch {
	case status == http.StatusOK:
		state.RetryQueue = removeEvent(state.RetryQueue, evt.ID)

	case evt.RepeatCount < maxAttempts:
		// At most one queue entry per event id: a retrigger replaces the
		// previous entry instead of duplicating it.
		state.RetryQueue = append(removeEvent(state.RetryQueue, evt.ID), evt)
		if err := a.alarms.Set(ctx, webhookID, time.Now().Add(a.backoff.NextInterval(evt.RepeatCount))); err != nil {
			a.logger.Error("failed to schedule retry wake",
				slog.String("webhook_id", webhookID),
				slog.String("error", err.Error()))
		}

	default:
		state.RetryQueue = removeEvent(state.RetryQueue, evt.ID)
		a.logger.Warn("retry attempts exhausted, dropping event",
			slog.String("webhook_id", webhookID),
			slog.String("event_id", evt.ID),
			slog.Int("repeat_count", evt.RepeatCount))
	}

	if err := a.saveState(ctx, webhookID, state); err != nil {
		return DeliveryReport{}, err
	}

	report := DeliveryReport{
		CreatedAt: time.Now().UTC(),
		Status:    status,
		Event:     evt,
		Response:  parseResponse(result, sendErr),
	}
	if err := a.log.Append(ctx, webhookID, report); err != nil {
		// The delivery already happened; a log write failure must not fail
		// the trigger or re-run the send.
		a.logger.Error("failed to persist delivery report",
			slog.String("webhook_id", webhookID),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()))
	}

	return report, nil
}

// handleWake redelivers the webhook's whole backlog: a single wake processes
// every queued event, not only the one whose failure scheduled the timer.
// Each redelivery runs through the full Trigger flow and is re-signed with a
// fresh timestamp.
func (a *Actors) handleWake(ctx context.Context, webhookID string) {
	unlock := a.locks.Lock(webhookID)
	state, ok, err := a.loadState(ctx, webhookID)
	unlock()
	if err != nil {
		a.logger.Error("failed to load actor state on wake",
			slog.String("webhook_id", webhookID),
			slog.String("error", err.Error()))
		return
	}
	if !ok || len(state.RetryQueue) == 0 {
		return
	}

	a.logger.Info("retry wake fired",
		slog.String("webhook_id", webhookID),
		slog.Int("pending", len(state.RetryQueue)))

	for _, evt := range state.RetryQueue {
		if _, err := a.Trigger(ctx, webhookID, evt); err != nil {
			a.logger.Error("redelivery failed",
				slog.String("webhook_id", webhookID),
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (a *Actors) loadState(ctx context.Context, webhookID string) (actorState, bool, error) {
	data, ok, err := a.store.Get(ctx, actorKey(webhookID))
	if err != nil {
		return actorState{}, false, fmt.Errorf("webhooks: load actor %s: %w", webhookID, err)
	}
	if !ok {
		return actorState{}, false, nil
	}

	var state actorState
	if err := json.Unmarshal(data, &state); err != nil {
		return actorState{}, false, fmt.Errorf("webhooks: decode actor %s: %w", webhookID, err)
	}
	return state, true, nil
}

func (a *Actors) saveState(ctx context.Context, webhookID string, state actorState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("webhooks: encode actor %s: %w", webhookID, err)
	}
	if err := a.store.Put(ctx, actorKey(webhookID), data, 0); err != nil {
		return fmt.Errorf("webhooks: save actor %s: %w", webhookID, err)
	}
	return nil
}

// parseResponse decodes the subscriber's response body according to its
// content type: JSON for json content types, string for text/*, nil for
// everything else. Malformed JSON from a subscriber is kept as a raw string
// rather than discarded.
func parseResponse(result webhook.Result, sendErr error) any {
	if sendErr != nil || len(result.Body) == 0 {
		return nil
	}
	if result.IsJSON() {
		var decoded any
		if err := json.Unmarshal(result.Body, &decoded); err == nil {
			return decoded
		}
		return string(result.Body)
	}
	if result.IsText() {
		return string(result.Body)
	}
	return nil
}

func findEvent(queue []Event, eventID string) (Event, bool) {
	for _, evt := range queue {
		if evt.ID == eventID {
			return evt, true
		}
	}
	return Event{}, false
}

func removeEvent(queue []Event, eventID string) []Event {
	kept := make([]Event, 0, len(queue))
	for _, evt := range queue {
		if evt.ID != eventID {
			kept = append(kept, evt)
		}
	}
	return kept
}
