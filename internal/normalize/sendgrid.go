package normalize

import (
	"encoding/json"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// SendGrid parses the flat event array format. Custom args configured at
// send time surface as top-level fields on each element.
type SendGrid struct{}

func (SendGrid) Provider() domain.Provider { return domain.ProviderSendGrid }

// sendgridCodes maps event values to the canonical taxonomy.
var sendgridCodes = map[string]domain.EventType{
	"processed":         domain.EventQueued,
	"delivered":         domain.EventDelivered,
	"open":              domain.EventOpened,
	"click":             domain.EventClicked,
	"bounce":            domain.EventBounced,
	"blocked":           domain.EventDropped,
	"deferred":          domain.EventDeferred,
	"dropped":           domain.EventDropped,
	"spamreport":        domain.EventSpamReport,
	"unsubscribe":       domain.EventUnsubscribed,
	"group_unsubscribe": domain.EventUnsubscribed,
}

type sendgridEvent struct {
	Event       string `json:"event"`
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	SGEventID   string `json:"sg_event_id"`
	SGMessageID string `json:"sg_message_id"`
	URL         string `json:"url"`
	UserAgent   string `json:"useragent"`
	IP          string `json:"ip"`
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	BounceType  string `json:"type"`

	// Custom args attached at send time.
	OrgID        string `json:"org_id"`
	CampaignID   string `json:"campaign_id"`
	SubscriberID string `json:"subscriber_id"`
}

func (SendGrid) Normalize(body []byte, receivedAt time.Time) ([]domain.NormalizedEvent, int, error) {
	// Elements are decoded individually so one malformed entry doesn't
	// take down the batch.
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, err
	}

	events := make([]domain.NormalizedEvent, 0, len(raw))
	skipped := 0

	for _, elem := range raw {
		var e sendgridEvent
		if err := json.Unmarshal(elem, &e); err != nil {
			skipped++
			continue
		}
		if e.Event == "" || e.Email == "" {
			skipped++
			continue
		}

		occurred := receivedAt
		if e.Timestamp > 0 {
			occurred = time.Unix(e.Timestamp, 0).UTC()
		}

		evt := domain.NormalizedEvent{
			Provider:          domain.ProviderSendGrid,
			ProviderMessageID: e.SGMessageID,
			ProviderEventID:   e.SGEventID,
			Type:              mapCode(sendgridCodes, e.Event),
			RecipientEmail:    normalizeEmail(e.Email),
			OccurredAt:        occurred,
			Correlation: domain.Correlation{
				OrganizationID: e.OrgID,
				CampaignID:     e.CampaignID,
				SubscriberID:   e.SubscriberID,
				MessageID:      e.SGMessageID,
			},
			Metadata: domain.EventMetadata{
				ProviderCode: e.Event,
				ClickURL:     e.URL,
				UserAgent:    e.UserAgent,
				IPAddress:    e.IP,
			},
		}

		switch evt.Type {
		case domain.EventBounced:
			// "bounce" with type "blocked" is transient; plain bounces
			// are permanent failures.
			if e.BounceType == "blocked" {
				evt.Metadata.BounceClass = domain.BounceSoft
			} else {
				evt.Metadata.BounceClass = domain.BounceHard
			}
			evt.Metadata.BounceReason = e.Reason
			evt.Metadata.DSNCode = e.Status
		case domain.EventUnsubscribed:
			// Group unsubscribes opt out of the whole suppression
			// group; plain unsubscribes are campaign-local when the
			// campaign is known.
			if e.Event == "group_unsubscribe" || e.CampaignID == "" {
				evt.Metadata.UnsubScope = domain.ScopeOrganization
			} else {
				evt.Metadata.UnsubScope = domain.ScopeCampaign
			}
		}

		events = append(events, evt)
	}
	return events, skipped, nil
}
