package webhooks_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/modules/webhooks"
	"github.com/dmitrymomot/hookrelay/pkg/alarm"
	"github.com/dmitrymomot/hookrelay/pkg/kv"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

type actorFixture struct {
	alarms *alarm.Scheduler
	log    *webhooks.DeliveryLog
	actors *webhooks.Actors
}

func newActorFixture(t *testing.T, opts ...webhooks.ActorsOption) *actorFixture {
	t.Helper()

	store := kv.NewMemory()
	alarms := alarm.NewScheduler(store, alarm.WithCheckInterval(10*time.Millisecond))
	log := webhooks.NewDeliveryLog(store)
	return &actorFixture{
		alarms: alarms,
		log:    log,
		actors: webhooks.NewActors(store, alarms, log, opts...),
	}
}

func (f *actorFixture) seed(t *testing.T, url string) webhooks.Subscription {
	t.Helper()

	sub := webhooks.Subscription{
		ID:        "wbhk_test",
		TenantID:  "tenant-1",
		URL:       url,
		Events:    []string{"*"},
		Secret:    "wbhk_sec_topsecret",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.actors.SetMeta(context.Background(), sub))
	return sub
}

func TestActors_TriggerSuccess(t *testing.T) {
	t.Parallel()

	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	f := newActorFixture(t)
	f.seed(t, srv.URL)

	report, err := f.actors.Trigger(context.Background(), "wbhk_test", webhooks.Event{
		ID:      "evt_1",
		Type:    "payment.succeeded",
		Payload: map[string]any{"amount": float64(100)},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, report.Status)
	assert.Equal(t, 0, report.Event.RepeatCount)
	assert.Equal(t, map[string]any{"received": true}, report.Response)
	assert.Equal(t, int32(1), received.Load())

	pending, err := f.actors.PendingRetries(context.Background(), "wbhk_test")
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries, _, err := f.log.List(context.Background(), "wbhk_test", "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, http.StatusOK, entries[0].Status)
}

func TestActors_OutboundPayloadAndSignature(t *testing.T) {
	t.Parallel()

	const secret = "wbhk_sec_topsecret"

	type captured struct {
		body      []byte
		signature string
		webhookID string
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			body:      body,
			signature: r.Header.Get("X-Signature"),
			webhookID: r.Header.Get("X-Webhook-Id"),
		}
	}))
	defer srv.Close()

	f := newActorFixture(t)
	f.seed(t, srv.URL)

	_, err := f.actors.Trigger(context.Background(), "wbhk_test", webhooks.Event{
		ID:       "evt_1",
		Type:     "payment.succeeded",
		TenantID: "tenant-1",
		Payload:  map[string]any{"amount": float64(100)},
	})
	require.NoError(t, err)

	c := <-got
	assert.Equal(t, "wbhk_test", c.webhookID)
	require.NoError(t, webhook.Verify(secret, c.signature, c.body, time.Minute))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(c.body, &payload))
	assert.Equal(t, "evt_1", payload["id"])
	assert.Equal(t, "payment.succeeded", payload["event"])
	assert.Equal(t, float64(0), payload["repeat_count"])
	// The tenant id never leaves the system.
	assert.NotContains(t, payload, "userID")
}

func TestActors_FailureQueuesRetry(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newActorFixture(t)
	f.seed(t, srv.URL)

	ctx := context.Background()
	report, err := f.actors.Trigger(ctx, "wbhk_test", webhooks.Event{ID: "evt_1", Type: "payment.failed"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, report.Status)

	pending, err := f.actors.PendingRetries(ctx, "wbhk_test")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt_1", pending[0].ID)
	assert.Equal(t, 0, pending[0].RepeatCount)

	_, ok, err := f.alarms.Pending(ctx, "wbhk_test")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActors_RepeatCountAndDedup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newActorFixture(t)
	f.seed(t, srv.URL)

	ctx := context.Background()
	evt := webhooks.Event{ID: "evt_1", Type: "payment.failed"}

	first, err := f.actors.Trigger(ctx, "wbhk_test", evt)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Event.RepeatCount)

	second, err := f.actors.Trigger(ctx, "wbhk_test", evt)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Event.RepeatCount)

	// Retriggering replaces the queue entry instead of duplicating it.
	pending, err := f.actors.PendingRetries(ctx, "wbhk_test")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RepeatCount)
}

func TestActors_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newActorFixture(t)
	f.seed(t, srv.URL)

	ctx := context.Background()
	evt := webhooks.Event{ID: "evt_1", Type: "payment.failed"}

	for attempt := 0; attempt < 6; attempt++ {
		report, err := f.actors.Trigger(ctx, "wbhk_test", evt)
		require.NoError(t, err)
		assert.Equal(t, attempt, report.Event.RepeatCount)
	}

	// Sixth consecutive failure exhausts the budget and drops the event.
	pending, err := f.actors.PendingRetries(ctx, "wbhk_test")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActors_SuccessClearsQueue(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newActorFixture(t)
	f.seed(t, srv.URL)

	ctx := context.Background()
	evt := webhooks.Event{ID: "evt_1", Type: "payment.failed"}

	_, err := f.actors.Trigger(ctx, "wbhk_test", evt)
	require.NoError(t, err)

	fail.Store(false)
	report, err := f.actors.Trigger(ctx, "wbhk_test", evt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, report.Status)
	assert.Equal(t, 1, report.Event.RepeatCount)

	pending, err := f.actors.PendingRetries(ctx, "wbhk_test")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActors_TransportFailureStatusZero(t *testing.T) {
	t.Parallel()

	// A closed server gives a connection refused, not an HTTP response.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := newActorFixture(t)
	f.seed(t, url)

	report, err := f.actors.Trigger(context.Background(), "wbhk_test", webhooks.Event{ID: "evt_1", Type: "ping"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Status)
	assert.Nil(t, report.Response)

	pending, err := f.actors.PendingRetries(context.Background(), "wbhk_test")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestActors_TriggerUnconfigured(t *testing.T) {
	t.Parallel()

	f := newActorFixture(t)

	_, err := f.actors.Trigger(context.Background(), "wbhk_missing", webhooks.Event{ID: "evt_1", Type: "ping"})
	require.ErrorIs(t, err, webhooks.ErrWebhookNotConfigured)
}

func TestActors_ConcurrentTriggersSerialize(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newActorFixture(t)
	f.seed(t, srv.URL)

	ctx := context.Background()
	const n = 8

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt := webhooks.Event{ID: fmt.Sprintf("evt_%d", i), Type: "payment.failed"}
			_, err := f.actors.Trigger(ctx, "wbhk_test", evt)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// One actor means one delivery at a time, regardless of caller count.
	assert.Equal(t, int32(1), maxInFlight.Load())

	// Every event id lands in the retry queue exactly once.
	pending, err := f.actors.PendingRetries(ctx, "wbhk_test")
	require.NoError(t, err)
	require.Len(t, pending, n)
	seen := make(map[string]int, n)
	for _, evt := range pending {
		seen[evt.ID]++
		assert.Equal(t, 0, evt.RepeatCount)
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, seen[fmt.Sprintf("evt_%d", i)], "event evt_%d", i)
	}
}

func TestActors_WakeRedeliversBacklog(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	var deliveries atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newActorFixture(t, webhooks.WithBackoff(webhook.FixedBackoff{Interval: 20 * time.Millisecond}))
	f.seed(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.alarms.Start(ctx) }()

	_, err := f.actors.Trigger(ctx, "wbhk_test", webhooks.Event{ID: "evt_1", Type: "payment.failed"})
	require.NoError(t, err)
	_, err = f.actors.Trigger(ctx, "wbhk_test", webhooks.Event{ID: "evt_2", Type: "payment.failed"})
	require.NoError(t, err)

	fail.Store(false)

	// The scheduled wake must redeliver both queued events and drain the
	// queue without further triggers.
	require.Eventually(t, func() bool {
		pending, err := f.actors.PendingRetries(context.Background(), "wbhk_test")
		return err == nil && len(pending) == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, deliveries.Load(), int32(4))
}
