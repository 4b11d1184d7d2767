package normalize

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// Mailgun parses the v2 webhook format: one event per call, wrapped in
// an event-data object next to the signature block.
type Mailgun struct{}

func (Mailgun) Provider() domain.Provider { return domain.ProviderMailgun }

// mailgunCodes maps event-data.event values to the canonical taxonomy.
// "failed" splits into BOUNCED/DEFERRED on severity, handled below.
var mailgunCodes = map[string]domain.EventType{
	"accepted":     domain.EventQueued,
	"delivered":    domain.EventDelivered,
	"opened":       domain.EventOpened,
	"clicked":      domain.EventClicked,
	"failed":       domain.EventBounced,
	"rejected":     domain.EventDropped,
	"complained":   domain.EventSpamReport,
	"unsubscribed": domain.EventUnsubscribed,
}

type mailgunEventData struct {
	Event     string  `json:"event"`
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
	Recipient string  `json:"recipient"`
	Severity  string  `json:"severity"`
	Reason    string  `json:"reason"`
	URL       string  `json:"url"`
	IP        string  `json:"ip"`

	DeliveryStatus struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"delivery-status"`

	ClientInfo struct {
		UserAgent string `json:"user-agent"`
	} `json:"client-info"`

	Message struct {
		Headers struct {
			MessageID string `json:"message-id"`
		} `json:"headers"`
	} `json:"message"`

	UserVariables map[string]string `json:"user-variables"`
}

type mailgunEnvelope struct {
	EventData mailgunEventData `json:"event-data"`
}

func (Mailgun) Normalize(body []byte, receivedAt time.Time) ([]domain.NormalizedEvent, int, error) {
	var env mailgunEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, err
	}
	data := env.EventData
	if data.Event == "" || data.Recipient == "" {
		return nil, 1, nil
	}

	occurred := receivedAt
	if data.Timestamp > 0 {
		sec := int64(data.Timestamp)
		nsec := int64((data.Timestamp - float64(sec)) * 1e9)
		occurred = time.Unix(sec, nsec).UTC()
	}

	evt := domain.NormalizedEvent{
		Provider:          domain.ProviderMailgun,
		ProviderMessageID: data.Message.Headers.MessageID,
		ProviderEventID:   data.ID,
		Type:              mapCode(mailgunCodes, data.Event),
		RecipientEmail:    normalizeEmail(data.Recipient),
		OccurredAt:        occurred,
		Correlation: domain.Correlation{
			OrganizationID: data.UserVariables["org_id"],
			CampaignID:     data.UserVariables["campaign_id"],
			SubscriberID:   data.UserVariables["subscriber_id"],
			MessageID:      data.Message.Headers.MessageID,
		},
		Metadata: domain.EventMetadata{
			ProviderCode: data.Event,
			ClickURL:     data.URL,
			UserAgent:    data.ClientInfo.UserAgent,
			IPAddress:    data.IP,
		},
	}

	switch evt.Type {
	case domain.EventBounced:
		// Mailgun reports both permanent and temporary failures as
		// "failed"; severity is the discriminator.
		if data.Severity == "temporary" {
			evt.Type = domain.EventDeferred
		} else {
			evt.Metadata.BounceClass = domain.BounceHard
			evt.Metadata.BounceReason = data.Reason
			if data.DeliveryStatus.Code != 0 {
				evt.Metadata.DSNCode = strconv.Itoa(data.DeliveryStatus.Code)
			}
			if evt.Metadata.BounceReason == "" {
				evt.Metadata.BounceReason = data.DeliveryStatus.Message
			}
		}
	case domain.EventUnsubscribed:
		if evt.Correlation.CampaignID != "" {
			evt.Metadata.UnsubScope = domain.ScopeCampaign
		} else {
			evt.Metadata.UnsubScope = domain.ScopeOrganization
		}
	}

	return []domain.NormalizedEvent{evt}, 0, nil
}
