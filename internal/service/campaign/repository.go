package campaign

import (
	"context"

	"github.com/propel-crm/email-events/internal/domain"
)

// Repository defines the data access contract for campaign aggregates.
type Repository interface {
	// Increment atomically adds one to the named counter. The row is
	// created on first touch.
	Increment(ctx context.Context, campaignID string, counter domain.Counter) error

	// FirstForCampaign atomically records that eventType occurred for
	// (subscriberID, campaignID) and reports whether this was the
	// first time.
	FirstForCampaign(ctx context.Context, subscriberID, campaignID string, t domain.EventType) (bool, error)

	// Counters returns the aggregate row for a campaign, or
	// ErrNotFound.
	Counters(ctx context.Context, campaignID string) (*domain.CampaignCounters, error)
}
