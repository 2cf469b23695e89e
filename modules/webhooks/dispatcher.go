package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/hookrelay/pkg/token"
)

// Dispatcher fans one event out to every matching subscription of a tenant.
// Fan-out is not transactional: each webhook's delivery succeeds or fails on
// its own and failed deliveries are retried by that webhook's actor alone.
type Dispatcher struct {
	registry *Registry
	actors   *Actors
	logger   *slog.Logger
}

// NewDispatcher wires the registry and actor runtime together.
func NewDispatcher(registry *Registry, actors *Actors, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		actors:   actors,
		logger:   logger,
	}
}

// Dispatch delivers the event to every subscription of the tenant whose
// patterns match the event type and returns the ids of the webhooks it was
// sent to. With ack set the call blocks until every first delivery attempt
// has completed; without it deliveries continue in the background and the
// call returns as soon as fan-out has started. Either way the dispatch
// outlives the caller's request context.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, evt Event, ack bool) ([]string, error) {
	if evt.ID == "" {
		id, err := token.New(eventIDPrefix, token.DefaultIDLength)
		if err != nil {
			return nil, fmt.Errorf("webhooks: assign event id: %w", err)
		}
		evt.ID = id
	}
	evt.TenantID = tenantID

	subs, err := d.registry.List(ctx, tenantID, evt.Type)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}

	// Deliveries run on a context detached from the caller's cancellation
	// and the group carries no shared cancel: each webhook's delivery
	// stands alone, one failing must not abort the others mid-send.
	dctx := context.WithoutCancel(ctx)
	var g errgroup.Group

	targets := make([]string, 0, len(subs))
	for _, sub := range subs {
		sub := sub
		targets = append(targets, sub.ID)
		g.Go(func() error {
			return d.deliver(dctx, sub, evt)
		})
	}

	if ack {
		if err := g.Wait(); err != nil {
			return targets, err
		}
		return targets, nil
	}

	go func() {
		if err := g.Wait(); err != nil {
			d.logger.Error("background dispatch failed",
				slog.String("tenant_id", tenantID),
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()))
		}
	}()
	return targets, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, evt Event) error {
	// Seed the actor with current metadata so URL or secret changes take
	// effect on this delivery.
	if err := d.actors.SetMeta(ctx, sub); err != nil {
		return err
	}

	report, err := d.actors.Trigger(ctx, sub.ID, evt)
	if err != nil {
		return err
	}

	if err := d.registry.SetStatus(ctx, sub.TenantID, sub.ID, report.Status); err != nil {
		// The webhook may have been deleted while the delivery was in
		// flight; the delivery itself already completed.
		if errors.Is(err, ErrWebhookNotFound) {
			d.logger.Info("webhook removed during delivery, status not recorded",
				slog.String("webhook_id", sub.ID),
				slog.String("event_id", evt.ID))
			return nil
		}
		return err
	}
	return nil
}
