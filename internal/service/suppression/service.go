package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/propel-crm/email-events/internal/domain"
)

// Service implements suppression business logic. It is safe for
// concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IsSuppressed checks whether an address is blocked from sending in the
// given context. orgID and campaignID may be empty; the global scope is
// always checked.
func (s *Service) IsSuppressed(ctx context.Context, email, orgID, campaignID string) (bool, error) {
	return s.repo.Matches(ctx, normalize(email), orgID, campaignID)
}

// Suppress adds an entry. Idempotent for an identical tuple.
func (s *Service) Suppress(ctx context.Context, email string, scope domain.Scope, orgID, campaignID string, reason domain.SuppressionReason, source string) error {
	email = normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	switch scope {
	case domain.ScopeGlobal:
	case domain.ScopeOrganization:
		if orgID == "" {
			return fmt.Errorf("organization scope needs an organization id: %w", ErrInvalidScope)
		}
	case domain.ScopeCampaign:
		if campaignID == "" {
			return fmt.Errorf("campaign scope needs a campaign id: %w", ErrInvalidScope)
		}
	default:
		return ErrInvalidScope
	}

	return s.repo.Add(ctx, &domain.SuppressionEntry{
		ID:             uuid.NewString(),
		Email:          email,
		Scope:          scope,
		OrganizationID: orgID,
		CampaignID:     campaignID,
		Reason:         reason,
		Source:         source,
		CreatedAt:      time.Now().UTC(),
	})
}

// SuppressForEvent derives and records the suppression side effect of a
// processed event. Events without one return (false, nil).
func (s *Service) SuppressForEvent(ctx context.Context, evt domain.NormalizedEvent) (bool, error) {
	email := evt.RecipientEmail
	org := evt.Correlation.OrganizationID
	campaign := evt.Correlation.CampaignID

	switch evt.Type {
	case domain.EventBounced:
		if evt.Metadata.BounceClass != domain.BounceHard {
			return false, nil
		}
		// Without an organization the entry still has to land
		// somewhere; a hard bounce is a property of the mailbox, so it
		// escalates to global.
		scope := domain.ScopeOrganization
		if org == "" {
			scope = domain.ScopeGlobal
		}
		return true, s.Suppress(ctx, email, scope, org, "", domain.ReasonHardBounce, string(evt.Provider))

	case domain.EventUnsubscribed:
		// The normalizer sets the scope from provider data; default to
		// organization when it didn't.
		scope := evt.Metadata.UnsubScope
		if scope == "" || (scope == domain.ScopeCampaign && campaign == "") {
			scope = domain.ScopeOrganization
		}
		if scope == domain.ScopeOrganization && org == "" {
			scope = domain.ScopeGlobal
		}
		if scope != domain.ScopeCampaign {
			campaign = ""
		}
		return true, s.Suppress(ctx, email, scope, org, campaign, domain.ReasonUnsubscribe, string(evt.Provider))

	case domain.EventSpamReport:
		return true, s.Suppress(ctx, email, domain.ScopeGlobal, "", "", domain.ReasonComplaint, string(evt.Provider))
	}
	return false, nil
}

// Remove deletes one entry.
func (s *Service) Remove(ctx context.Context, email string, scope domain.Scope, orgID, campaignID string) error {
	email = normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	return s.repo.Remove(ctx, email, scope, orgID, campaignID)
}

// List returns entries matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.SuppressionEntry, int, error) {
	return s.repo.List(ctx, filter)
}

// Stats aggregates entry counts for the stats endpoint.
type Stats struct {
	Total    int            `json:"total"`
	ByScope  map[string]int `json:"by_scope"`
	ByReason map[string]int `json:"by_reason"`
}

// GetStats computes suppression statistics.
func (s *Service) GetStats(ctx context.Context, orgID string) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, ListFilter{OrganizationID: orgID})
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:    total,
		ByScope:  make(map[string]int),
		ByReason: make(map[string]int),
	}
	for _, e := range entries {
		stats.ByScope[string(e.Scope)]++
		stats.ByReason[string(e.Reason)]++
	}
	return stats, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
