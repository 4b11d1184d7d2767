package campaign

import (
	"context"

	"github.com/propel-crm/email-events/internal/domain"
)

// Service folds normalized events into campaign counters. Safe for
// concurrent use: all mutation happens through atomic store increments.
type Service struct {
	repo Repository
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Counters returns the aggregates for one campaign.
func (s *Service) Counters(ctx context.Context, campaignID string) (*domain.CampaignCounters, error) {
	return s.repo.Counters(ctx, campaignID)
}

// Apply updates the counters affected by one event. Events without a
// campaign id are a no-op.
func (s *Service) Apply(ctx context.Context, evt domain.NormalizedEvent) error {
	campaignID := evt.Correlation.CampaignID
	if campaignID == "" {
		return nil
	}

	switch evt.Type {
	case domain.EventDelivered:
		return s.repo.Increment(ctx, campaignID, domain.CounterDelivered)

	case domain.EventOpened:
		if err := s.repo.Increment(ctx, campaignID, domain.CounterOpened); err != nil {
			return err
		}
		return s.incrementUnique(ctx, evt, domain.CounterUniqueOpened)

	case domain.EventClicked:
		if err := s.repo.Increment(ctx, campaignID, domain.CounterClicked); err != nil {
			return err
		}
		return s.incrementUnique(ctx, evt, domain.CounterUniqueClicked)

	case domain.EventBounced:
		return s.repo.Increment(ctx, campaignID, domain.CounterBounced)

	case domain.EventUnsubscribed:
		return s.repo.Increment(ctx, campaignID, domain.CounterUnsubscribed)

	case domain.EventSpamReport:
		return s.repo.Increment(ctx, campaignID, domain.CounterSpamReports)
	}
	return nil
}

// incrementUnique bumps a unique counter only on the first open/click
// for the (subscriber, campaign) pair. Without a subscriber id
// uniqueness cannot be established, so the unique counter stays put.
func (s *Service) incrementUnique(ctx context.Context, evt domain.NormalizedEvent, counter domain.Counter) error {
	subscriberID := evt.Correlation.SubscriberID
	if subscriberID == "" {
		return nil
	}
	first, err := s.repo.FirstForCampaign(ctx, subscriberID, evt.Correlation.CampaignID, evt.Type)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	return s.repo.Increment(ctx, evt.Correlation.CampaignID, counter)
}
