package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/propel-crm/email-events/internal/dedup"
	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/normalize"
	"github.com/propel-crm/email-events/internal/pkg/httpretry"
	"github.com/propel-crm/email-events/internal/pkg/httputil"
	"github.com/propel-crm/email-events/internal/pkg/logger"
	"github.com/propel-crm/email-events/internal/pkg/metrics"
	"github.com/propel-crm/email-events/internal/queue"
	"github.com/propel-crm/email-events/internal/webhook"
)

// maxWebhookBody bounds webhook payloads to prevent OOM. Providers cap
// batches well below this.
const maxWebhookBody = 5 * 1024 * 1024

// WebhookHandler is the synchronous half of the pipeline: verify,
// normalize, dedup, enqueue, respond. No database work happens here.
type WebhookHandler struct {
	verifiers   *webhook.Registry
	normalizers *normalize.Registry
	gate        dedup.Gate
	sink        queue.Sink
	enabled     map[domain.Provider]bool
	confirmer   httpretry.HTTPDoer
	log         *logger.Logger
}

// NewWebhookHandler wires the ingest path. enabled lists the providers
// this deployment accepts; nil means all.
func NewWebhookHandler(verifiers *webhook.Registry, normalizers *normalize.Registry, gate dedup.Gate, sink queue.Sink, enabled []domain.Provider) *WebhookHandler {
	var set map[domain.Provider]bool
	if enabled != nil {
		set = make(map[domain.Provider]bool, len(enabled))
		for _, p := range enabled {
			set[p] = true
		}
	}
	return &WebhookHandler{
		verifiers:   verifiers,
		normalizers: normalizers,
		gate:        gate,
		sink:        sink,
		enabled:     set,
		confirmer:   httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 3),
		log:         logger.Component("webhook"),
	}
}

// snsEnvelope is the subset needed to recognize SNS handshake calls.
type snsEnvelope struct {
	Type         string `json:"Type"`
	SubscribeURL string `json:"SubscribeURL"`
}

// Handle processes POST /webhooks/{provider}.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(chi.URLParam(r, "provider"))
	if !provider.Valid() || (h.enabled != nil && !h.enabled[provider]) {
		httputil.Error(w, http.StatusNotFound, "unknown provider")
		return
	}
	metrics.RecordReceived(string(provider))

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	// SNS subscription handshakes arrive before any shared secret is
	// exchanged; acknowledge, then confirm the subscription off the
	// request path.
	if provider == domain.ProviderSES {
		var env snsEnvelope
		if json.Unmarshal(body, &env) == nil && env.Type != "" && env.Type != "Notification" {
			h.log.Info("sns handshake", "sns_type", env.Type)
			if env.Type == "SubscriptionConfirmation" && env.SubscribeURL != "" {
				go h.confirmSubscription(env.SubscribeURL)
			}
			httputil.OK(w, map[string]string{"status": "acknowledged"})
			return
		}
	}

	if res := h.verifiers.Verify(provider, body, r.Header, time.Now()); !res.Valid {
		metrics.RecordAuthFailure(string(provider))
		h.log.Warn("signature rejected", "provider", string(provider), "reason", res.Reason)
		httputil.Unauthorized(w, "signature verification failed")
		return
	}

	events, skipped, err := h.normalizers.Normalize(provider, body, time.Now().UTC())
	if err != nil {
		metrics.RecordMalformed(string(provider))
		httputil.BadRequest(w, "unparseable payload")
		return
	}
	if skipped > 0 {
		metrics.RecordMalformed(string(provider))
	}

	queued := 0
	failed := skipped
	for _, evt := range events {
		if evt.Validate() != nil {
			failed++
			continue
		}
		first, _ := h.gate.FirstSeen(r.Context(), evt)
		if !first {
			metrics.RecordDuplicate()
			continue
		}
		err := h.sink.Enqueue(r.Context(), queue.Envelope{Event: evt, EnqueuedAt: time.Now().UTC()})
		if err != nil {
			// The event never reached the queue; release its dedup
			// record or the redelivery would be dropped as a
			// duplicate for the rest of the window.
			h.gate.Forget(r.Context(), evt)
			if errors.Is(err, queue.ErrFull) {
				// Backpressure: tell the provider to redeliver the
				// batch.
				httputil.Error(w, http.StatusServiceUnavailable, "ingestion queue full")
				return
			}
			failed++
			continue
		}
		queued++
	}

	httputil.OK(w, httputil.IngestResponse{Success: true, Processed: queued, Errors: failed})
}

// confirmSubscription visits the SNS SubscribeURL so the topic starts
// delivering notifications. SNS re-sends the handshake if this fails.
func (h *WebhookHandler) confirmSubscription(url string) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		h.log.Error("sns confirm request", "error", err.Error())
		return
	}
	resp, err := h.confirmer.Do(req)
	if err != nil {
		h.log.Error("sns confirm failed", "error", err.Error())
		return
	}
	resp.Body.Close()
	h.log.Info("sns subscription confirmed", "status", resp.StatusCode)
}
