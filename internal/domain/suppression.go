package domain

import "time"

// Scope bounds where a suppression entry applies. A send-time check
// passes only if no entry matches in any applicable scope.
type Scope string

const (
	ScopeGlobal       Scope = "global"
	ScopeOrganization Scope = "organization"
	ScopeCampaign     Scope = "campaign"
)

// SuppressionReason enumerates why an email was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce  SuppressionReason = "hard_bounce"
	ReasonComplaint   SuppressionReason = "spam_complaint"
	ReasonUnsubscribe SuppressionReason = "unsubscribe"
	ReasonManual      SuppressionReason = "manual"
)

// SuppressionEntry is a standing record preventing future sends to an
// address within a given scope. Entries are append-only: a later
// suppression never removes an earlier one, and removal is an explicit
// administrative action outside this pipeline.
type SuppressionEntry struct {
	ID             string            `json:"id" db:"id"`
	Email          string            `json:"email" db:"email"`
	Scope          Scope             `json:"scope" db:"scope"`
	OrganizationID string            `json:"organization_id,omitempty" db:"organization_id"`
	CampaignID     string            `json:"campaign_id,omitempty" db:"campaign_id"`
	Reason         SuppressionReason `json:"reason" db:"reason"`
	Source         string            `json:"source" db:"source"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}
