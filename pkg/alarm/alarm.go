// Package alarm provides a durable "wake me at time T" primitive: at most
// one pending wake per key, persisted in the backing store so scheduled
// wakes survive process restarts, and fired at most once.
package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/kv"
)

// keyPrefix namespaces wake entries inside the shared store.
const keyPrefix = "alarm:"

// pollPageSize bounds how many wake entries one poll reads per store call.
const pollPageSize = 100

// Handler is invoked when a wake fires. The key is the one passed to Set.
// Each wake fires on its own goroutine; panics are recovered and logged,
// they never stop the polling loop.
type Handler func(ctx context.Context, key string)

// wake is the persisted form of a pending wake-up.
type wake struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// Scheduler persists wake requests and fires them when due. Firing deletes
// the entry before the handler runs, so a wake is consumed at most once and
// a fresh one must be scheduled for the next failure.
type Scheduler struct {
	store    kv.Store
	handler  Handler
	interval time.Duration
	logger   *slog.Logger
	id       uuid.UUID
}

// NewScheduler creates a scheduler reading and writing wake entries in the
// given store. A handler must be registered with OnWake before Start.
func NewScheduler(store kv.Store, opts ...Option) *Scheduler {
	options := &schedulerOptions{
		checkInterval: time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		store:    store,
		interval: options.checkInterval,
		logger:   options.logger,
		id:       uuid.New(),
	}
}

// OnWake registers the handler invoked for due wakes. Must be called before
// Start.
func (s *Scheduler) OnWake(h Handler) {
	s.handler = h
}

// Set schedules a wake for key at the given time. When a wake is already
// pending for the key the call is a no-op, which keeps repeated failures
// from piling up timers.
func (s *Scheduler) Set(ctx context.Context, key string, at time.Time) error {
	if _, pending, err := s.Pending(ctx, key); err != nil {
		return err
	} else if pending {
		return nil
	}

	data, err := json.Marshal(wake{Key: key, At: at})
	if err != nil {
		return fmt.Errorf("alarm: marshal wake for %q: %w", key, err)
	}
	return s.store.Put(ctx, keyPrefix+key, data, 0)
}

// Pending reports whether a wake is scheduled for key and, if so, for when.
func (s *Scheduler) Pending(ctx context.Context, key string) (time.Time, bool, error) {
	data, ok, err := s.store.Get(ctx, keyPrefix+key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}

	var w wake
	if err := json.Unmarshal(data, &w); err != nil {
		return time.Time{}, false, fmt.Errorf("alarm: decode wake for %q: %w", key, err)
	}
	return w.At, true, nil
}

// Cancel removes a pending wake for key, if any.
func (s *Scheduler) Cancel(ctx context.Context, key string) error {
	return s.store.Delete(ctx, keyPrefix+key)
}

// Start runs the polling loop until ctx is canceled. Wake entries written by
// a previous process are picked up on the first tick, which is what makes
// scheduled retries survive restarts.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.handler == nil {
		return ErrNoHandler
	}

	s.logger.Info("alarm scheduler started",
		slog.String("scheduler_id", s.id.String()),
		slog.Duration("check_interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on start to drain wakes left over from a restart.
	s.fireDue(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("alarm scheduler shutting down",
				slog.String("scheduler_id", s.id.String()))
			return ctx.Err()
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue scans the wake namespace and fires every entry whose time has
// passed. Entries are deleted before their handler runs.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	cursor := ""

	for {
		page, err := s.store.List(ctx, keyPrefix, cursor, pollPageSize)
		if err != nil {
			s.logger.Error("failed to list pending wakes",
				slog.String("scheduler_id", s.id.String()),
				slog.String("error", err.Error()))
			return
		}

		for _, entry := range page.Entries {
			var w wake
			if err := json.Unmarshal(entry.Value, &w); err != nil {
				s.logger.Error("dropping undecodable wake entry",
					slog.String("key", entry.Key),
					slog.String("error", err.Error()))
				_ = s.store.Delete(ctx, entry.Key)
				continue
			}
			if w.At.After(now) {
				continue
			}

			// Consume before firing: a crash between delete and handler
			// loses the wake rather than firing it twice.
			if err := s.store.Delete(ctx, entry.Key); err != nil {
				s.logger.Error("failed to consume wake entry",
					slog.String("key", entry.Key),
					slog.String("error", err.Error()))
				continue
			}
			// Fire off the poll goroutine: one key's slow handler must not
			// hold every other key's wake past its due time. Per-key
			// ordering is the handler's concern, not the scheduler's.
			go s.fire(ctx, w.Key)
		}

		if page.Cursor == "" {
			return
		}
		cursor = page.Cursor
	}
}

func (s *Scheduler) fire(ctx context.Context, key string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("wake handler panicked",
				slog.String("scheduler_id", s.id.String()),
				slog.String("key", key),
				slog.Any("panic", r))
		}
	}()

	s.logger.Debug("firing wake",
		slog.String("scheduler_id", s.id.String()),
		slog.String("key", key))
	s.handler(ctx, key)
}
