package engagement

import (
	"context"
	"errors"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// Outcome reports what one event changed, so the processor can drive
// campaign counters and suppression from it without re-deriving.
type Outcome struct {
	// FirstOpenForMessage / FirstClickForMessage are true when this was
	// the first open/click for the (subscriber, message) pair. Only
	// first occurrences move the score.
	FirstOpenForMessage  bool
	FirstClickForMessage bool

	// StatusChanged is true when the subscriber transitioned state.
	StatusChanged bool

	Status domain.SubscriberStatus
	Score  int
}

// Service implements the scoring state machine. Methods are safe for
// concurrent use across different subscribers; events for one
// subscriber must be applied sequentially.
type Service struct {
	repo Repository
}

// NewService creates an engagement service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the engagement record for a subscriber.
func (s *Service) Get(ctx context.Context, subscriberID string) (*domain.SubscriberEngagement, error) {
	return s.repo.Get(ctx, subscriberID)
}

// Apply folds one normalized event into the subscriber's engagement
// record. Events without a subscriber id return ErrMissingSubscriber;
// the processor skips engagement for those and still runs campaign and
// suppression side effects where possible.
func (s *Service) Apply(ctx context.Context, evt domain.NormalizedEvent) (Outcome, error) {
	if evt.Correlation.SubscriberID == "" {
		return Outcome{}, ErrMissingSubscriber
	}

	rec, err := s.getOrCreate(ctx, evt)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	switch evt.Type {
	case domain.EventOpened:
		out.FirstOpenForMessage, err = s.applyOpen(ctx, rec, evt)
	case domain.EventClicked:
		out.FirstClickForMessage, err = s.applyClick(ctx, rec, evt)
	case domain.EventBounced:
		out.StatusChanged = s.applyBounce(rec, evt)
	case domain.EventUnsubscribed:
		out.StatusChanged = s.applyUnsubscribe(rec)
	case domain.EventSpamReport:
		out.StatusChanged = s.applySpamReport(rec)
	default:
		// Delivery-side events carry no engagement signal.
		out.Status = rec.Status
		out.Score = rec.Score
		return out, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	// The first-seen mark rides in the same atomic update as the score
	// it granted; a failed update leaves the message unseen so a retry
	// re-applies the delta.
	var marks []Mark
	if out.FirstOpenForMessage {
		marks = append(marks, Mark{MessageID: messageKey(evt), Type: domain.EventOpened})
	}
	if out.FirstClickForMessage {
		marks = append(marks, Mark{MessageID: messageKey(evt), Type: domain.EventClicked})
	}

	rec.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, rec, marks...); err != nil {
		return Outcome{}, err
	}
	out.Status = rec.Status
	out.Score = rec.Score
	return out, nil
}

func (s *Service) getOrCreate(ctx context.Context, evt domain.NormalizedEvent) (*domain.SubscriberEngagement, error) {
	rec, err := s.repo.Get(ctx, evt.Correlation.SubscriberID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	rec = &domain.SubscriberEngagement{
		SubscriberID:   evt.Correlation.SubscriberID,
		OrganizationID: evt.Correlation.OrganizationID,
		Email:          evt.RecipientEmail,
		Status:         domain.SubscriberActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) applyOpen(ctx context.Context, rec *domain.SubscriberEngagement, evt domain.NormalizedEvent) (bool, error) {
	rec.EmailsOpened++
	if t := evt.OccurredAt; rec.LastOpenedAt == nil || t.After(*rec.LastOpenedAt) {
		rec.LastOpenedAt = &t
	}

	seen, err := s.repo.SeenForMessage(ctx, rec.SubscriberID, messageKey(evt), domain.EventOpened)
	if err != nil {
		return false, err
	}
	first := !seen
	if first {
		delta := domain.OpenScoreDelta
		if rec.OpenScore+delta > domain.OpenScoreCap {
			delta = domain.OpenScoreCap - rec.OpenScore
		}
		if delta > 0 {
			rec.OpenScore += delta
			rec.Score = clamp(rec.Score + delta)
		}
	}
	return first, nil
}

func (s *Service) applyClick(ctx context.Context, rec *domain.SubscriberEngagement, evt domain.NormalizedEvent) (bool, error) {
	rec.EmailsClicked++
	if t := evt.OccurredAt; rec.LastClickedAt == nil || t.After(*rec.LastClickedAt) {
		rec.LastClickedAt = &t
	}

	seen, err := s.repo.SeenForMessage(ctx, rec.SubscriberID, messageKey(evt), domain.EventClicked)
	if err != nil {
		return false, err
	}
	first := !seen
	if first {
		delta := domain.ClickScoreDelta
		if rec.ClickScore+delta > domain.ClickScoreCap {
			delta = domain.ClickScoreCap - rec.ClickScore
		}
		if delta > 0 {
			rec.ClickScore += delta
			rec.Score = clamp(rec.Score + delta)
		}
	}
	return first, nil
}

// applyBounce counts every bounce; only hard bounces move status, and
// never off a terminal state.
func (s *Service) applyBounce(rec *domain.SubscriberEngagement, evt domain.NormalizedEvent) bool {
	rec.BounceCount++
	if evt.Metadata.BounceClass != domain.BounceHard {
		return false
	}
	if rec.Status.Terminal() || rec.Status == domain.SubscriberBounced {
		return false
	}
	rec.Status = domain.SubscriberBounced
	return true
}

func (s *Service) applyUnsubscribe(rec *domain.SubscriberEngagement) bool {
	rec.Score = clamp(rec.Score + domain.UnsubScoreDelta)
	if rec.Status.Terminal() {
		return false
	}
	rec.Status = domain.SubscriberUnsubscribed
	return true
}

// applySpamReport zeroes the score. A complaint outranks an earlier
// unsubscribe, so the transition happens from any other state.
func (s *Service) applySpamReport(rec *domain.SubscriberEngagement) bool {
	rec.Score = 0
	if rec.Status == domain.SubscriberComplained {
		return false
	}
	rec.Status = domain.SubscriberComplained
	return true
}

// messageKey identifies the message a tracking event belongs to,
// falling back to the event id when providers omit the message id.
func messageKey(evt domain.NormalizedEvent) string {
	if evt.Correlation.MessageID != "" {
		return evt.Correlation.MessageID
	}
	if evt.ProviderMessageID != "" {
		return evt.ProviderMessageID
	}
	return evt.ProviderEventID
}

func clamp(score int) int {
	if score < domain.ScoreMin {
		return domain.ScoreMin
	}
	if score > domain.ScoreMax {
		return domain.ScoreMax
	}
	return score
}
