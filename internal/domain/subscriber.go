package domain

import "time"

// SubscriberStatus enumerates the states a subscriber can be in.
// Complained and Unsubscribed are sticky: later engagement events still
// update counters and timestamps but never move the subscriber back to
// Active.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberBounced      SubscriberStatus = "bounced"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberComplained   SubscriberStatus = "complained"
)

// Terminal reports whether the status must never revert to Active.
func (s SubscriberStatus) Terminal() bool {
	return s == SubscriberComplained || s == SubscriberUnsubscribed
}

// Score bounds for the engagement scoring engine.
const (
	ScoreMin = 0
	ScoreMax = 100

	// OpenScoreCap limits the total score contribution from opens.
	OpenScoreCap = 50
	// ClickScoreCap limits the total score contribution from clicks.
	ClickScoreCap = 100

	OpenScoreDelta  = 5
	ClickScoreDelta = 10
	UnsubScoreDelta = -50
)

// SubscriberEngagement is one row per subscriber, mutated only by the
// event processor. Created lazily on the first event referencing the
// subscriber; never deleted, only status-transitioned.
type SubscriberEngagement struct {
	SubscriberID   string           `json:"subscriber_id" db:"subscriber_id"`
	OrganizationID string           `json:"organization_id" db:"organization_id"`
	Email          string           `json:"email" db:"email"`
	Status         SubscriberStatus `json:"status" db:"status"`

	Score         int `json:"score" db:"score"`
	OpenScore     int `json:"open_score" db:"open_score"`
	ClickScore    int `json:"click_score" db:"click_score"`
	EmailsOpened  int `json:"emails_opened" db:"emails_opened"`
	EmailsClicked int `json:"emails_clicked" db:"emails_clicked"`
	BounceCount   int `json:"bounce_count" db:"bounce_count"`

	LastOpenedAt  *time.Time `json:"last_opened_at" db:"last_opened_at"`
	LastClickedAt *time.Time `json:"last_clicked_at" db:"last_clicked_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
