package engagement

import (
	"context"

	"github.com/propel-crm/email-events/internal/domain"
)

// Mark is a first-seen history entry for a (message, event type) pair.
// Marks are written together with the record update so a failed update
// leaves the pair unseen for the retry.
type Mark struct {
	MessageID string
	Type      domain.EventType
}

// Repository defines the data access contract for engagement records.
type Repository interface {
	// Get returns the engagement record for a subscriber, or
	// ErrNotFound.
	Get(ctx context.Context, subscriberID string) (*domain.SubscriberEngagement, error)

	// Create inserts a fresh engagement record.
	Create(ctx context.Context, rec *domain.SubscriberEngagement) error

	// Update persists a mutated engagement record and its history
	// marks in one atomic step: either all land or none do. The caller
	// serializes updates per subscriber.
	Update(ctx context.Context, rec *domain.SubscriberEngagement, marks ...Mark) error

	// SeenForMessage reports whether eventType was already recorded
	// for (subscriberID, messageID). Read-only; recording happens via
	// the marks passed to Update.
	SeenForMessage(ctx context.Context, subscriberID, messageID string, t domain.EventType) (bool, error)
}
