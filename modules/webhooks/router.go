package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/hookrelay/pkg/allowlist"
	"github.com/dmitrymomot/hookrelay/pkg/session"
	"github.com/dmitrymomot/hookrelay/pkg/token"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

// maxInboundBodyBytes bounds request bodies on the public trigger and
// verification endpoints.
const maxInboundBodyBytes = 1 << 20

// Config carries the HTTP surface settings.
type Config struct {
	// BaseURL is the public origin used to build the action links embedded
	// in webhook listings.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	// AllowlistURL points at the CSV of domains permitted to call the
	// trigger endpoint.
	AllowlistURL string `env:"ALLOWLIST_URL,required"`
	// LoginURL receives redirected anonymous requests.
	LoginURL string `env:"LOGIN_URL" envDefault:"/login"`
	// SignatureMaxAge bounds how old an inbound signature timestamp may be.
	SignatureMaxAge time.Duration `env:"SIGNATURE_MAX_AGE" envDefault:"5m"`
}

// Handlers serves the webhook management and trigger endpoints.
type Handlers struct {
	cfg        Config
	registry   *Registry
	actors     *Actors
	log        *DeliveryLog
	dispatcher *Dispatcher
	domains    *allowlist.List
	limiter    func(http.Handler) http.Handler
	logger     *slog.Logger
}

// HandlerOption configures the HTTP surface.
type HandlerOption func(*Handlers)

// WithTriggerRateLimit throttles the trigger endpoint with the given
// middleware.
func WithTriggerRateLimit(mw func(http.Handler) http.Handler) HandlerOption {
	return func(h *Handlers) {
		if mw != nil {
			h.limiter = mw
		}
	}
}

// NewHandlers wires the module's HTTP surface.
func NewHandlers(
	cfg Config,
	registry *Registry,
	actors *Actors,
	log *DeliveryLog,
	dispatcher *Dispatcher,
	domains *allowlist.List,
	logger *slog.Logger,
	opts ...HandlerOption,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		cfg:        cfg,
		registry:   registry,
		actors:     actors,
		log:        log,
		dispatcher: dispatcher,
		domains:    domains,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the module's route tree. Management endpoints require a
// resolved tenant; the trigger and verification endpoints are open but
// guarded by the domain allowlist and signature check respectively.
func (h *Handlers) Router(resolver session.Resolver) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(resolver, h.cfg.LoginURL))

		r.Get("/api/webhooks", h.listWebhooks)
		r.Post("/api/webhooks/create", h.createWebhook)
		r.Get("/api/webhooks/{webhookID}/delete", h.deleteWebhook)
		r.Get("/api/webhooks/{webhookID}/logs", h.listLogs)
		r.Get("/api/webhooks/{webhookID}/trigger-test", h.triggerTest)
	})

	if h.limiter != nil {
		r.With(h.limiter).Post("/api/trigger", h.trigger)
	} else {
		r.Post("/api/trigger", h.trigger)
	}
	r.Post("/incoming-test", h.verifyIncoming)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"})
	})

	return r
}

// webhookView is a subscription as rendered in listings, extended with its
// pending retry backlog and per-webhook action links.
type webhookView struct {
	Subscription
	Pending []Event           `json:"pending"`
	Actions map[string]string `json:"actions"`
}

// envelope wraps every management response body. The dashboard client
// unwraps `data` uniformly regardless of endpoint.
type envelope struct {
	Data any `json:"data"`
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, envelope{Data: v})
}

func (h *Handlers) webhookActions(webhookID string) map[string]string {
	base := strings.TrimSuffix(h.cfg.BaseURL, "/")
	return map[string]string{
		"delete":      fmt.Sprintf("%s/api/webhooks/%s/delete", base, webhookID),
		"logs":        fmt.Sprintf("%s/api/webhooks/%s/logs", base, webhookID),
		"triggerTest": fmt.Sprintf("%s/api/webhooks/%s/trigger-test", base, webhookID),
	}
}

func (h *Handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := session.TenantID(ctx)

	subs, err := h.registry.List(ctx, tenantID, r.URL.Query().Get("filter"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	views := make([]webhookView, 0, len(subs))
	for _, sub := range subs {
		pending, err := h.actors.PendingRetries(ctx, sub.ID)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if pending == nil {
			pending = []Event{}
		}
		views = append(views, webhookView{
			Subscription: sub,
			Pending:      pending,
			Actions:      h.webhookActions(sub.ID),
		})
	}

	writeData(w, http.StatusOK, views)
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (h *Handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := session.TenantID(ctx)

	var req createWebhookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInboundBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.URL == "" || len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url and events are required"})
		return
	}
	if err := webhook.ValidateURL(req.URL); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	id, err := token.New(webhookIDPrefix, token.DefaultIDLength)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	secret, err := token.New(webhookSecretPrefix, token.DefaultSecretLength)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	sub := Subscription{
		ID:        id,
		TenantID:  tenantID,
		URL:       req.URL,
		Events:    req.Events,
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.registry.Create(ctx, sub); err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.actors.SetMeta(ctx, sub); err != nil {
		h.serverError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, webhookView{
		Subscription: sub,
		Pending:      []Event{},
		Actions:      h.webhookActions(sub.ID),
	})
}

func (h *Handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := session.TenantID(ctx)

	if err := h.registry.Delete(ctx, tenantID, chi.URLParam(r, "webhookID")); err != nil {
		h.serverError(w, r, err)
		return
	}

	http.Redirect(w, r, "/api/webhooks", http.StatusFound)
}

// requireOwned resolves the webhook and checks the requesting tenant owns
// it. Unknown and foreign webhooks are both redirected to the listing, so
// the endpoint does not reveal which ids exist.
func (h *Handlers) requireOwned(w http.ResponseWriter, r *http.Request) (Subscription, bool) {
	ctx := r.Context()
	tenantID, _ := session.TenantID(ctx)
	webhookID := chi.URLParam(r, "webhookID")

	sub, ok, err := h.actors.Meta(ctx, webhookID)
	if err != nil {
		h.serverError(w, r, err)
		return Subscription{}, false
	}
	if !ok || sub.TenantID != tenantID {
		http.Redirect(w, r, "/api/webhooks", http.StatusFound)
		return Subscription{}, false
	}
	return sub, true
}

type logsResponse struct {
	Logs []LogEntry `json:"logs"`
	// Cursor resumes the listing; Next is the same continuation as a ready
	// URL. Both are absent on the last page.
	Cursor string `json:"cursor,omitempty"`
	Next   string `json:"next,omitempty"`
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.requireOwned(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	prefix := query.Get("prefix")
	entries, cursor, err := h.log.List(r.Context(), sub.ID, prefix, query.Get("cursor"))
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
			return
		}
		h.serverError(w, r, err)
		return
	}
	if entries == nil {
		entries = []LogEntry{}
	}

	resp := logsResponse{Logs: entries, Cursor: cursor}
	if cursor != "" {
		next := url.Values{}
		if prefix != "" {
			next.Set("prefix", prefix)
		}
		next.Set("cursor", cursor)
		resp.Next = fmt.Sprintf("%s/api/webhooks/%s/logs?%s",
			strings.TrimSuffix(h.cfg.BaseURL, "/"), sub.ID, next.Encode())
	}

	writeData(w, http.StatusOK, resp)
}

func (h *Handlers) triggerTest(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.requireOwned(w, r)
	if !ok {
		return
	}

	report, err := h.actors.Trigger(r.Context(), sub.ID, Event{
		ID:   token.MustNew(eventIDPrefix, token.DefaultIDLength),
		Type: "testEvent.created",
		Payload: map[string]any{
			"hello": "world",
		},
	})
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, report)
}

type triggerRequest struct {
	TenantID string         `json:"userID"`
	Type     string         `json:"event"`
	Payload  map[string]any `json:"object"`
}

type triggerResponse struct {
	Success  bool     `json:"success"`
	Webhooks []string `json:"webhooks"`
}

func (h *Handlers) trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	domain := r.Header.Get("X-Caller-Domain")
	if domain == "" {
		domain = r.Host
	}
	allowed, err := h.domains.Allowed(ctx, domain)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !allowed {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "Unauthorized")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInboundBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.TenantID == "" || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userID and event are required"})
		return
	}

	ack := r.URL.Query().Has("requires-ack")
	delivered, err := h.dispatcher.Dispatch(ctx, req.TenantID, Event{
		Type:    req.Type,
		Payload: req.Payload,
	}, ack)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if delivered == nil {
		delivered = []string{}
	}

	writeJSON(w, http.StatusOK, triggerResponse{Success: true, Webhooks: delivered})
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// verifyIncoming checks a received delivery the way a subscriber would:
// the X-Webhook-Id header locates the signing secret and the X-Signature
// header is verified against the raw body.
func (h *Handlers) verifyIncoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	webhookID := r.Header.Get(webhook.WebhookIDHeader)
	if webhookID == "" {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Error: "missing " + webhook.WebhookIDHeader + " header"})
		return
	}

	sub, ok, err := h.actors.Meta(ctx, webhookID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, verifyResponse{Error: "unknown webhook"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Error: "unreadable body"})
		return
	}

	if err := webhook.Verify(sub.Secret, r.Header.Get(webhook.SignatureHeader), body, h.cfg.SignatureMaxAge); err != nil {
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Verified: true})
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
