package webhooks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrymomot/hookrelay/pkg/kv"
)

const (
	// logTTL bounds how long delivery reports are retained.
	logTTL = 30 * 24 * time.Hour

	// logPageSize is the fixed page size for log listings.
	logPageSize = 15
)

// DeliveryLog is the append-only record of delivery outcomes, keyed by
// (webhook, event type, event id). A retried delivery overwrites the prior
// report for the same event id, so only the latest outcome per event
// survives. Entries expire after 30 days.
type DeliveryLog struct {
	store kv.Store
}

// NewDeliveryLog creates a delivery log on top of the given store.
func NewDeliveryLog(store kv.Store) *DeliveryLog {
	return &DeliveryLog{store: store}
}

// logKey builds the storage key. The format is part of the persisted
// contract; changing it orphans existing reports.
func logKey(webhookID, eventType, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s -> %s", webhookID, eventType, eventID)
}

func logPrefix(webhookID, eventTypePrefix string) string {
	return fmt.Sprintf("webhook:%s:%s", webhookID, eventTypePrefix)
}

// Append writes the report for one delivery attempt, replacing any previous
// report for the same (webhook, event type, event id).
func (l *DeliveryLog) Append(ctx context.Context, webhookID string, report DeliveryReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("webhooks: encode delivery report: %w", err)
	}

	key := logKey(webhookID, report.Event.Type, report.Event.ID)
	if err := l.store.Put(ctx, key, data, logTTL); err != nil {
		return fmt.Errorf("webhooks: append delivery report: %w", err)
	}
	return nil
}

// List returns one page of reports for the webhook whose event type starts
// with prefix, in key order. The returned cursor is opaque and forward-only;
// it is empty once the listing is exhausted.
func (l *DeliveryLog) List(ctx context.Context, webhookID, prefix, cursor string) ([]LogEntry, string, error) {
	storeCursor := ""
	if cursor != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidCursor, err)
		}
		storeCursor = string(decoded)
	}

	page, err := l.store.List(ctx, logPrefix(webhookID, prefix), storeCursor, logPageSize)
	if err != nil {
		if storeCursor != "" {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidCursor, err)
		}
		return nil, "", fmt.Errorf("webhooks: list delivery reports: %w", err)
	}

	entries := make([]LogEntry, 0, len(page.Entries))
	for _, entry := range page.Entries {
		var report DeliveryReport
		if err := json.Unmarshal(entry.Value, &report); err != nil {
			return nil, "", fmt.Errorf("webhooks: decode delivery report %q: %w", entry.Key, err)
		}
		entries = append(entries, LogEntry{DeliveryReport: report, Key: entry.Key})
	}

	next := ""
	if page.Cursor != "" {
		next = base64.RawURLEncoding.EncodeToString([]byte(page.Cursor))
	}
	return entries, next, nil
}
