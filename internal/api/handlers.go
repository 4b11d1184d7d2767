package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/pkg/httputil"
	"github.com/propel-crm/email-events/internal/repository/postgres"
	"github.com/propel-crm/email-events/internal/service/campaign"
	"github.com/propel-crm/email-events/internal/service/engagement"
	"github.com/propel-crm/email-events/internal/service/suppression"
)

// ProcessorStats exposes the worker pool's lifetime counters.
type ProcessorStats interface {
	Stats() (processed, failed, deadLettered int64)
}

// DeadLetterLister reads parked events.
type DeadLetterLister interface {
	List(ctx context.Context, limit, offset int) ([]postgres.DeadLetter, error)
}

// ReadHandlers serves the read-side API.
type ReadHandlers struct {
	engagements  *engagement.Service
	campaigns    *campaign.Service
	suppressions *suppression.Service
	deadLetters  DeadLetterLister
	processor    ProcessorStats
	queueDepth   func() int
}

// NewReadHandlers creates the read-side handler set. processor,
// deadLetters and queueDepth may be nil when the server runs without an
// embedded worker.
func NewReadHandlers(eng *engagement.Service, camp *campaign.Service, sup *suppression.Service, dls DeadLetterLister, proc ProcessorStats, queueDepth func() int) *ReadHandlers {
	return &ReadHandlers{
		engagements:  eng,
		campaigns:    camp,
		suppressions: sup,
		deadLetters:  dls,
		processor:    proc,
		queueDepth:   queueDepth,
	}
}

func (h *ReadHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// HandleStats reports pipeline throughput for the ops dashboard.
func (h *ReadHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	if h.processor != nil {
		processed, failed, dead := h.processor.Stats()
		stats["processed"] = processed
		stats["failed"] = failed
		stats["dead_lettered"] = dead
	}
	if h.queueDepth != nil {
		stats["queue_depth"] = h.queueDepth()
	}
	httputil.OK(w, stats)
}

func (h *ReadHandlers) HandleCampaignCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := h.campaigns.Counters(r.Context(), chi.URLParam(r, "campaignID"))
	if errors.Is(err, campaign.ErrNotFound) {
		httputil.Error(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, counters)
}

func (h *ReadHandlers) HandleEngagement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engagements.Get(r.Context(), chi.URLParam(r, "subscriberID"))
	if errors.Is(err, engagement.ErrNotFound) {
		httputil.Error(w, http.StatusNotFound, "subscriber not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rec)
}

func (h *ReadHandlers) HandleSuppressionList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, total, err := h.suppressions.List(r.Context(), suppression.ListFilter{
		Scope:          domain.Scope(q.Get("scope")),
		Reason:         domain.SuppressionReason(q.Get("reason")),
		OrganizationID: q.Get("organization_id"),
		CampaignID:     q.Get("campaign_id"),
		Search:         q.Get("search"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"entries": entries, "total": total})
}

// HandleSuppressionRemove deletes one entry; the tuple comes from query
// parameters because DELETE bodies are unreliable across proxies.
func (h *ReadHandlers) HandleSuppressionRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := q.Get("email")
	scope := domain.Scope(q.Get("scope"))
	if email == "" || scope == "" {
		httputil.BadRequest(w, "email and scope are required")
		return
	}

	err := h.suppressions.Remove(r.Context(), email, scope, q.Get("organization_id"), q.Get("campaign_id"))
	if errors.Is(err, suppression.ErrNotFound) {
		httputil.Error(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "removed"})
}

func (h *ReadHandlers) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		httputil.OK(w, []postgres.DeadLetter{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	letters, err := h.deadLetters.List(r.Context(), limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if letters == nil {
		letters = []postgres.DeadLetter{}
	}
	httputil.OK(w, letters)
}
