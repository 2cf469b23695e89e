package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/hookrelay/modules/webhooks"
	"github.com/dmitrymomot/hookrelay/pkg/alarm"
	"github.com/dmitrymomot/hookrelay/pkg/allowlist"
	"github.com/dmitrymomot/hookrelay/pkg/config"
	"github.com/dmitrymomot/hookrelay/pkg/httpserver"
	"github.com/dmitrymomot/hookrelay/pkg/kv"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/ratelimit"
	"github.com/dmitrymomot/hookrelay/pkg/redis"
	"github.com/dmitrymomot/hookrelay/pkg/session"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

type appConfig struct {
	Logger  logger.Config
	Server  httpserver.Config
	Redis   redis.Config
	Module  webhooks.Config
	Retries retryConfig
	Ingress ingressConfig
}

type retryConfig struct {
	CheckInterval   time.Duration `env:"RETRY_CHECK_INTERVAL" envDefault:"30s"`
	Interval        time.Duration `env:"RETRY_INTERVAL" envDefault:"2m"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"15s"`
}

type ingressConfig struct {
	RateLimit  int64         `env:"TRIGGER_RATE_LIMIT" envDefault:"600"`
	RateWindow time.Duration `env:"TRIGGER_RATE_WINDOW" envDefault:"1m"`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(cfg.Logger, func(ctx context.Context) (slog.Attr, bool) {
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			return slog.String("request_id", reqID), true
		}
		return slog.Attr{}, false
	})
	slog.SetDefault(log)

	ctx := context.Background()

	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = client.Close() }()

	store := kv.NewRedis(client)
	registry := webhooks.NewRegistry(store)
	deliveryLog := webhooks.NewDeliveryLog(store)
	alarms := alarm.NewScheduler(store,
		alarm.WithCheckInterval(cfg.Retries.CheckInterval),
		alarm.WithLogger(log))
	actors := webhooks.NewActors(store, alarms, deliveryLog,
		webhooks.WithSender(webhook.NewSender(webhook.WithTimeout(cfg.Retries.DeliveryTimeout))),
		webhooks.WithBackoff(webhook.FixedBackoff{Interval: cfg.Retries.Interval}),
		webhooks.WithLogger(log))
	dispatcher := webhooks.NewDispatcher(registry, actors, log)

	limiter, err := ratelimit.New(ratelimit.NewRedisCounter(client), cfg.Ingress.RateLimit, cfg.Ingress.RateWindow)
	if err != nil {
		log.Error("invalid rate limit configuration", slog.String("error", err.Error()))
		return
	}

	handlers := webhooks.NewHandlers(
		cfg.Module,
		registry,
		actors,
		deliveryLog,
		dispatcher,
		allowlist.New(cfg.Module.AllowlistURL),
		log,
		webhooks.WithTriggerRateLimit(ratelimit.Middleware(limiter, func(r *http.Request) string {
			if domain := r.Header.Get("X-Caller-Domain"); domain != "" {
				return domain
			}
			return r.Host
		})),
	)

	mux := http.NewServeMux()
	mux.Handle("/health", httpserver.HealthCheckHandler(log, redis.Healthcheck(client)))
	mux.Handle("/", handlers.Router(session.BearerResolver{}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return alarms.Start(gctx)
	})
	g.Go(func() error {
		return httpserver.New(cfg.Server, log).Run(gctx, mux)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service stopped", slog.String("error", err.Error()))
		return
	}
	log.Info("service stopped")
}
