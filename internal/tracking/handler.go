package tracking

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/pkg/logger"
	"github.com/propel-crm/email-events/internal/queue"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler turns signed tracking hits into normalized events on the
// ingestion queue.
type Handler struct {
	signer *Signer
	sink   queue.Sink
	log    *logger.Logger
}

// NewHandler creates a tracking handler enqueuing onto the given sink.
func NewHandler(signer *Signer, sink queue.Sink) *Handler {
	return &Handler{signer: signer, sink: sink, log: logger.Component("tracking")}
}

// Routes mounts the tracking endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open/{data}/{sig}", h.HandleOpen)
	r.Get("/click/{data}/{sig}", h.HandleClick)
	r.Get("/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
	return r
}

// HandleOpen serves the pixel unconditionally. Mail clients must never
// see an error image, so bad tokens are dropped silently.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	tok, err := h.decode(r)
	if err == nil {
		h.enqueue(r, tok, domain.EventOpened, "")
	}
	h.servePixel(w)
}

// HandleClick records the click and redirects to the wrapped URL.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	tok, err := h.decode(r)
	if err != nil || tok.LinkURL == "" {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	h.enqueue(r, tok, domain.EventClicked, tok.LinkURL)
	http.Redirect(w, r, tok.LinkURL, http.StatusTemporaryRedirect)
}

// HandleUnsubscribe records a campaign-scoped unsubscribe and shows a
// confirmation page.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	tok, err := h.decode(r)
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	// An unsubscribe the queue never saw must not be confirmed. The
	// subscriber retries the link instead of believing they are out.
	if err := h.enqueue(r, tok, domain.EventUnsubscribed, ""); err != nil {
		http.Error(w, "unsubscribe could not be recorded, please try again", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) decode(r *http.Request) (Token, error) {
	return h.signer.Decode(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
}

func (h *Handler) enqueue(r *http.Request, tok Token, t domain.EventType, clickURL string) error {
	evt := domain.NormalizedEvent{
		Provider:        domain.Provider(tok.Provider),
		ProviderEventID: uuid.NewString(),
		Type:            t,
		RecipientEmail:  strings.ToLower(tok.Email),
		OccurredAt:      time.Now().UTC(),
		Correlation: domain.Correlation{
			OrganizationID: tok.OrgID,
			CampaignID:     tok.CampaignID,
			SubscriberID:   tok.SubscriberID,
			MessageID:      tok.MessageID,
		},
		Metadata: domain.EventMetadata{
			ClickURL:  clickURL,
			UserAgent: r.UserAgent(),
			IPAddress: realIP(r),
		},
	}
	if t == domain.EventUnsubscribed {
		evt.Metadata.UnsubScope = domain.ScopeCampaign
		if tok.CampaignID == "" {
			evt.Metadata.UnsubScope = domain.ScopeOrganization
		}
	}
	if err := h.sink.Enqueue(r.Context(), queue.Envelope{Event: evt, EnqueuedAt: time.Now().UTC()}); err != nil {
		h.log.Warn("tracking enqueue failed", "event_type", string(t), "error", err.Error())
		return err
	}
	return nil
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
