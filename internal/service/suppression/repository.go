package suppression

import (
	"context"

	"github.com/propel-crm/email-events/internal/domain"
)

// Repository defines the data access contract for suppression entries.
type Repository interface {
	// Add inserts an entry. Re-adding an identical (email, scope, org,
	// campaign) tuple preserves the existing record (idempotent).
	Add(ctx context.Context, e *domain.SuppressionEntry) error

	// Matches returns true if any entry covers the email in the given
	// scopes: global always applies, organization when orgID is set,
	// campaign when campaignID is set.
	Matches(ctx context.Context, email, orgID, campaignID string) (bool, error)

	// Remove deletes one entry. Returns ErrNotFound if no entry
	// matches the tuple exactly.
	Remove(ctx context.Context, email string, scope domain.Scope, orgID, campaignID string) error

	// List returns entries matching the filter, newest first, plus the
	// total count before pagination.
	List(ctx context.Context, filter ListFilter) ([]domain.SuppressionEntry, int, error)
}

// ListFilter controls filtering and pagination for suppression lists.
type ListFilter struct {
	Scope          domain.Scope
	Reason         domain.SuppressionReason
	OrganizationID string
	CampaignID     string
	Search         string
	Limit          int
	Offset         int
}
