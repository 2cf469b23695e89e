package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrymomot/hookrelay/pkg/keylock"
	"github.com/dmitrymomot/hookrelay/pkg/kv"
	"github.com/dmitrymomot/hookrelay/pkg/wildcard"
)

// Registry is the per-tenant durable list of webhook subscriptions. Each
// tenant's list is stored as one document and mutated under a per-tenant
// lock, so concurrent creates and deletes for the same tenant never lose
// updates.
type Registry struct {
	store kv.Store
	locks *keylock.Registry
}

// NewRegistry creates a subscription registry on top of the given store.
func NewRegistry(store kv.Store) *Registry {
	return &Registry{
		store: store,
		locks: keylock.New(),
	}
}

func tenantKey(tenantID string) string {
	return "tenant:" + tenantID + ":webhooks"
}

// List returns the tenant's subscriptions. With a non-empty filter only
// subscriptions are returned where at least one registered pattern matches
// the filter: the stored pattern is the wildcard side, the filter is the
// literal event type being tested.
func (r *Registry) List(ctx context.Context, tenantID, filter string) ([]Subscription, error) {
	subs, err := r.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return subs, nil
	}

	matched := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		for _, pattern := range sub.Events {
			if wildcard.Match(filter, pattern) {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched, nil
}

// Create appends the subscription to its tenant's list. The caller assigns
// the id; no uniqueness check is performed.
func (r *Registry) Create(ctx context.Context, sub Subscription) error {
	unlock := r.locks.Lock(sub.TenantID)
	defer unlock()

	subs, err := r.load(ctx, sub.TenantID)
	if err != nil {
		return err
	}
	return r.save(ctx, sub.TenantID, append(subs, sub))
}

// Delete removes every subscription with the given id from the tenant's
// list. Deleting an unknown id is a no-op.
func (r *Registry) Delete(ctx context.Context, tenantID, webhookID string) error {
	unlock := r.locks.Lock(tenantID)
	defer unlock()

	subs, err := r.load(ctx, tenantID)
	if err != nil {
		return err
	}

	kept := subs[:0]
	for _, sub := range subs {
		if sub.ID != webhookID {
			kept = append(kept, sub)
		}
	}
	if len(kept) == len(subs) {
		return nil
	}
	return r.save(ctx, tenantID, kept)
}

// SetStatus records the outcome of the most recent delivery on the
// subscription: LastStatus takes the HTTP status and LastExecuted is set to
// now. Returns ErrWebhookNotFound for unknown ids, which callers racing a
// concurrent delete treat as informational.
func (r *Registry) SetStatus(ctx context.Context, tenantID, webhookID string, status int) error {
	unlock := r.locks.Lock(tenantID)
	defer unlock()

	subs, err := r.load(ctx, tenantID)
	if err != nil {
		return err
	}

	for i := range subs {
		if subs[i].ID != webhookID {
			continue
		}
		now := time.Now().UTC()
		subs[i].LastStatus = &status
		subs[i].LastExecuted = &now
		return r.save(ctx, tenantID, subs)
	}
	return fmt.Errorf("%w: %s", ErrWebhookNotFound, webhookID)
}

func (r *Registry) load(ctx context.Context, tenantID string) ([]Subscription, error) {
	data, ok, err := r.store.Get(ctx, tenantKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("webhooks: load registry for tenant %s: %w", tenantID, err)
	}
	if !ok {
		return nil, nil
	}

	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("webhooks: decode registry for tenant %s: %w", tenantID, err)
	}
	return subs, nil
}

func (r *Registry) save(ctx context.Context, tenantID string, subs []Subscription) error {
	data, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("webhooks: encode registry for tenant %s: %w", tenantID, err)
	}
	if err := r.store.Put(ctx, tenantKey(tenantID), data, 0); err != nil {
		return fmt.Errorf("webhooks: save registry for tenant %s: %w", tenantID, err)
	}
	return nil
}
