package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vidforge/orchestrator/internal/metrics"
)

// webhookTopic is the single in-process topic events are queued under
// between the HTTP handler and the background processor (§4.11b step 1:
// the endpoint acknowledges within 500ms and defers actual processing).
const webhookTopic = "planning.webhook.received"

// webhookRecorder is the subset of *store.Store the HTTP handler needs for
// the idempotency check (§4.11b step 3).
type webhookRecorder interface {
	RecordWebhook(ctx context.Context, eventID string, payload []byte) (bool, error)
}

// incomingWebhook is the minimal envelope the planning database's webhook
// delivery is expected to carry: an idempotency key and the page that
// changed. Payload shape beyond these two fields is opaque to the
// orchestrator and stored verbatim in webhook_events.payload.
type incomingWebhook struct {
	EventID string `json:"event_id"`
	PageID  string `json:"page_id"`
}

// WebhookServerConfig holds the HTTP-facing tunables for the receiver.
type WebhookServerConfig struct {
	Addr   string
	Secret string // HMAC-SHA256 signing secret; signature check skipped if empty (§4.11b step 2)

	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// DefaultWebhookServerConfig returns production defaults: no CORS origins
// (must be configured explicitly) and a 100 req/min rate limit.
func DefaultWebhookServerConfig(addr string) WebhookServerConfig {
	return WebhookServerConfig{
		Addr:               addr,
		CORSAllowedOrigins: []string{},
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
	}
}

// WebhookServer is a suture.Service exposing the planning database's
// webhook endpoint. Ingest is split in two: the HTTP handler does the
// minimum to satisfy the 500ms acknowledgement budget (signature check,
// dedup insert), and publishes the event onto an in-process queue that a
// background processor drains independently (§4.11b, §5).
type WebhookServer struct {
	cfg       WebhookServerConfig
	store     webhookRecorder
	tasks     taskOperator
	processor *processor
	logger    zerolog.Logger

	httpServer *http.Server
	bus        *gochannel.GoChannel
}

// NewWebhookServer builds a WebhookServer. pages and reconciler back the
// deferred processor stage; s backs only the synchronous dedup check; ops
// backs the task-management surface (approve_gate/reject_gate/cancel/
// list_tasks, §6) exposed alongside the webhook receiver.
func NewWebhookServer(cfg WebhookServerConfig, s webhookRecorder, pages pageFetcher, reconciler taskReconciler, ops taskOperator, logger zerolog.Logger) *WebhookServer {
	logger = logger.With().Str("component", "webhook-server").Logger()

	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewStdLogger(false, false))

	ws := &WebhookServer{
		cfg:       cfg,
		store:     s,
		tasks:     ops,
		processor: newProcessor(pages, reconciler, logger),
		logger:    logger,
		bus:       bus,
	}

	ws.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           ws.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

func (ws *WebhookServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ws.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", webhookSignatureHeader},
	}))
	r.Use(httprate.Limit(ws.rateLimitRequests(), ws.rateLimitWindow(), httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Post("/webhooks/planning", ws.handleWebhook)
	r.Get("/healthz", ws.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/tasks", ws.handleListTasks)
	r.Post("/tasks/{taskID}/approve-gate", ws.handleApproveGate)
	r.Post("/tasks/{taskID}/reject-gate", ws.handleRejectGate)
	r.Post("/tasks/{taskID}/cancel", ws.handleCancel)
	return r
}

func (ws *WebhookServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (ws *WebhookServer) rateLimitRequests() int {
	if ws.cfg.RateLimitRequests > 0 {
		return ws.cfg.RateLimitRequests
	}
	return 100
}

func (ws *WebhookServer) rateLimitWindow() time.Duration {
	if ws.cfg.RateLimitWindow > 0 {
		return ws.cfg.RateLimitWindow
	}
	return time.Minute
}

// webhookSignatureHeader is the header the sender is expected to sign the
// raw request body under, hex-encoded HMAC-SHA256.
const webhookSignatureHeader = "X-Webhook-Signature"

// handleWebhook implements §4.11b steps 1-3: respond fast, verify
// signature, dedup, and defer the rest.
func (ws *WebhookServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if ws.cfg.Secret != "" {
		sig := r.Header.Get(webhookSignatureHeader)
		if sig == "" || !verifySignature(body, sig, ws.cfg.Secret) {
			metrics.RecordWebhookEvent("receive", "bad_signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var in incomingWebhook
	if err := json.Unmarshal(body, &in); err != nil || in.EventID == "" {
		metrics.RecordWebhookEvent("receive", "bad_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	isNew, err := ws.store.RecordWebhook(r.Context(), in.EventID, body)
	if err != nil {
		ws.logger.Error().Err(err).Str("event_id", in.EventID).Msg("failed to record webhook")
		metrics.RecordWebhookEvent("receive", "store_error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !isNew {
		// Idempotency guarantee (§4.11b step 3): acknowledge and stop.
		metrics.RecordWebhookEvent("receive", "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	msg := message.NewMessage(in.EventID, []byte(in.PageID))
	if err := ws.bus.Publish(webhookTopic, msg); err != nil {
		ws.logger.Error().Err(err).Str("event_id", in.EventID).Msg("failed to queue webhook for processing")
	}

	metrics.RecordWebhookEvent("receive", "accepted")
	w.WriteHeader(http.StatusOK)
}

func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Serve implements suture.Service: it starts the background message
// consumer and the HTTP listener, then blocks until ctx is canceled.
func (ws *WebhookServer) Serve(ctx context.Context) error {
	ws.logger.Info().Str("addr", ws.cfg.Addr).Msg("webhook server starting")
	defer ws.logger.Info().Msg("webhook server stopped")

	sub, err := ws.bus.Subscribe(ctx, webhookTopic)
	if err != nil {
		return fmt.Errorf("subscribe webhook topic: %w", err)
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for msg := range sub {
			ws.processor.process(ctx, msg.UUID, string(msg.Payload))
			msg.Ack()
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- ws.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ws.httpServer.Shutdown(shutdownCtx); err != nil {
			ws.logger.Warn().Err(err).Msg("webhook server shutdown did not complete cleanly")
		}
		_ = ws.bus.Close()
		<-consumerDone
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String implements fmt.Stringer for suture's logging.
func (ws *WebhookServer) String() string {
	return "sync-webhook-server"
}

