package domain

import (
	"fmt"
	"time"
)

// Provider identifies a third-party email sender issuing webhook callbacks.
// The set is closed: adding a provider means adding a verifier and a
// normalizer, so unknown values are rejected at the HTTP boundary.
type Provider string

const (
	ProviderSparkPost Provider = "sparkpost"
	ProviderMailgun   Provider = "mailgun"
	ProviderSES       Provider = "ses"
	ProviderSendGrid  Provider = "sendgrid"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderSparkPost, ProviderMailgun, ProviderSES, ProviderSendGrid:
		return true
	}
	return false
}

// EventType is the canonical taxonomy for email lifecycle events.
// Every provider-native event code maps to exactly one of these; codes
// without a mapping resolve to EventFailed so taxonomy drift is visible
// in processing stats instead of silently dropped.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventDeferred     EventType = "deferred"
	EventDropped      EventType = "dropped"
	EventUnsubscribed EventType = "unsubscribed"
	EventSpamReport   EventType = "spam_report"
	EventFailed       EventType = "failed"
)

// Valid reports whether t is part of the canonical taxonomy.
func (t EventType) Valid() bool {
	switch t {
	case EventQueued, EventSent, EventDelivered, EventOpened, EventClicked,
		EventBounced, EventDeferred, EventDropped, EventUnsubscribed,
		EventSpamReport, EventFailed:
		return true
	}
	return false
}

// BounceClass distinguishes permanent from transient delivery failures.
type BounceClass string

const (
	BounceHard BounceClass = "hard"
	BounceSoft BounceClass = "soft"
)

// Correlation carries the campaign/subscriber linkage the sending system
// attached at send time. All fields are optional: events without
// correlation are still processed, just without campaign side effects.
type Correlation struct {
	OrganizationID string `json:"organization_id,omitempty"`
	CampaignID     string `json:"campaign_id,omitempty"`
	SubscriberID   string `json:"subscriber_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// EventMetadata holds event-specific attributes extracted from the
// provider payload.
type EventMetadata struct {
	BounceClass  BounceClass `json:"bounce_class,omitempty"`
	BounceReason string      `json:"bounce_reason,omitempty"`
	DSNCode      string      `json:"dsn_code,omitempty"`
	ClickURL     string      `json:"click_url,omitempty"`
	UserAgent    string      `json:"user_agent,omitempty"`
	IPAddress    string      `json:"ip_address,omitempty"`
	UnsubScope   Scope       `json:"unsub_scope,omitempty"`
	ProviderCode string      `json:"provider_code,omitempty"`
}

// NormalizedEvent is the canonical, provider-agnostic representation of
// one email lifecycle occurrence. It is the unit that moves through the
// dedup gate, the ingestion queue, and the processor.
type NormalizedEvent struct {
	Provider          Provider      `json:"provider"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	ProviderEventID   string        `json:"provider_event_id,omitempty"`
	Type              EventType     `json:"event_type"`
	RecipientEmail    string        `json:"recipient_email"`
	OccurredAt        time.Time     `json:"occurred_at"`
	Correlation       Correlation   `json:"correlation,omitempty"`
	Metadata          EventMetadata `json:"metadata,omitempty"`
}

// EventKey returns the stable identity tuple used for deduplication.
// ProviderEventID is preferred; ProviderMessageID is the fallback for
// providers that don't issue per-event IDs.
func (e NormalizedEvent) EventKey() string {
	id := e.ProviderEventID
	if id == "" {
		id = e.ProviderMessageID
	}
	return fmt.Sprintf("%s|%s|%s|%d", e.Provider, id, e.Type, e.OccurredAt.Unix())
}

// Validate checks the minimal invariants an event must hold before it is
// admitted to the pipeline.
func (e NormalizedEvent) Validate() error {
	if !e.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", e.Provider)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.RecipientEmail == "" {
		return fmt.Errorf("recipient email is required")
	}
	if e.ProviderEventID == "" && e.ProviderMessageID == "" {
		return fmt.Errorf("event needs a provider event or message id")
	}
	return nil
}
