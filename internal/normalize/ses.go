package normalize

import (
	"encoding/json"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// SES parses SNS-wrapped SES event publishing notifications. Bounce and
// complaint notifications fan out per recipient, so one notification can
// yield several canonical events.
type SES struct{}

func (SES) Provider() domain.Provider { return domain.ProviderSES }

// sesCodes maps eventType/notificationType values to the canonical
// taxonomy. Bounce severity comes from bounceType, handled below.
var sesCodes = map[string]domain.EventType{
	"send":          domain.EventSent,
	"delivery":      domain.EventDelivered,
	"open":          domain.EventOpened,
	"click":         domain.EventClicked,
	"bounce":        domain.EventBounced,
	"complaint":     domain.EventSpamReport,
	"reject":        domain.EventDropped,
	"deliverydelay": domain.EventDeferred,
	"subscription":  domain.EventUnsubscribed,
}

type snsEnvelope struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	Message   string `json:"Message"`
}

type sesRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	DiagnosticCode string `json:"diagnosticCode"`
	Status         string `json:"status"`
}

type sesNotification struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`

	Mail struct {
		MessageID   string              `json:"messageId"`
		Timestamp   string              `json:"timestamp"`
		Destination []string            `json:"destination"`
		Tags        map[string][]string `json:"tags"`
	} `json:"mail"`

	Bounce struct {
		BounceType        string         `json:"bounceType"`
		BounceSubType     string         `json:"bounceSubType"`
		BouncedRecipients []sesRecipient `json:"bouncedRecipients"`
		Timestamp         string         `json:"timestamp"`
		FeedbackID        string         `json:"feedbackId"`
	} `json:"bounce"`

	Complaint struct {
		ComplainedRecipients  []sesRecipient `json:"complainedRecipients"`
		ComplaintFeedbackType string         `json:"complaintFeedbackType"`
		Timestamp             string         `json:"timestamp"`
		FeedbackID            string         `json:"feedbackId"`
	} `json:"complaint"`

	Delivery struct {
		Recipients []string `json:"recipients"`
		Timestamp  string   `json:"timestamp"`
	} `json:"delivery"`

	Open struct {
		IPAddress string `json:"ipAddress"`
		UserAgent string `json:"userAgent"`
		Timestamp string `json:"timestamp"`
	} `json:"open"`

	Click struct {
		IPAddress string `json:"ipAddress"`
		UserAgent string `json:"userAgent"`
		Link      string `json:"link"`
		Timestamp string `json:"timestamp"`
	} `json:"click"`
}

func (s SES) Normalize(body []byte, receivedAt time.Time) ([]domain.NormalizedEvent, int, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, err
	}
	// SubscriptionConfirmation/UnsubscribeConfirmation carry no email
	// events; the handler acknowledges them before normalization.
	if env.Type != "Notification" {
		return nil, 0, nil
	}

	var n sesNotification
	if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
		return nil, 1, nil
	}

	code := n.EventType
	if code == "" {
		code = n.NotificationType
	}
	eventType := mapCode(sesCodes, code)

	tag := func(name string) string {
		if vs := n.Mail.Tags[name]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	base := domain.NormalizedEvent{
		Provider:          domain.ProviderSES,
		ProviderMessageID: n.Mail.MessageID,
		ProviderEventID:   env.MessageID,
		Type:              eventType,
		OccurredAt:        parseEventTime(n.Mail.Timestamp, receivedAt),
		Correlation: domain.Correlation{
			OrganizationID: tag("org_id"),
			CampaignID:     tag("campaign_id"),
			SubscriberID:   tag("subscriber_id"),
			MessageID:      n.Mail.MessageID,
		},
		Metadata: domain.EventMetadata{ProviderCode: code},
	}

	var out []domain.NormalizedEvent
	skipped := 0

	switch eventType {
	case domain.EventBounced:
		bounceClass := domain.BounceSoft
		if n.Bounce.BounceType == "Permanent" {
			bounceClass = domain.BounceHard
		}
		for _, r := range n.Bounce.BouncedRecipients {
			if r.EmailAddress == "" {
				skipped++
				continue
			}
			evt := base
			evt.RecipientEmail = normalizeEmail(r.EmailAddress)
			evt.OccurredAt = parseEventTime(n.Bounce.Timestamp, base.OccurredAt)
			evt.ProviderEventID = n.Bounce.FeedbackID
			evt.Metadata.BounceClass = bounceClass
			evt.Metadata.BounceReason = n.Bounce.BounceSubType
			evt.Metadata.DSNCode = r.DiagnosticCode
			out = append(out, evt)
		}
	case domain.EventSpamReport:
		for _, r := range n.Complaint.ComplainedRecipients {
			if r.EmailAddress == "" {
				skipped++
				continue
			}
			evt := base
			evt.RecipientEmail = normalizeEmail(r.EmailAddress)
			evt.OccurredAt = parseEventTime(n.Complaint.Timestamp, base.OccurredAt)
			evt.ProviderEventID = n.Complaint.FeedbackID
			evt.Metadata.BounceReason = n.Complaint.ComplaintFeedbackType
			out = append(out, evt)
		}
	case domain.EventDelivered:
		recipients := n.Delivery.Recipients
		if len(recipients) == 0 {
			recipients = n.Mail.Destination
		}
		for _, email := range recipients {
			evt := base
			evt.RecipientEmail = normalizeEmail(email)
			evt.OccurredAt = parseEventTime(n.Delivery.Timestamp, base.OccurredAt)
			out = append(out, evt)
		}
	case domain.EventOpened, domain.EventClicked:
		if len(n.Mail.Destination) == 0 {
			return nil, 1, nil
		}
		evt := base
		evt.RecipientEmail = normalizeEmail(n.Mail.Destination[0])
		if eventType == domain.EventOpened {
			evt.OccurredAt = parseEventTime(n.Open.Timestamp, base.OccurredAt)
			evt.Metadata.UserAgent = n.Open.UserAgent
			evt.Metadata.IPAddress = n.Open.IPAddress
		} else {
			evt.OccurredAt = parseEventTime(n.Click.Timestamp, base.OccurredAt)
			evt.Metadata.UserAgent = n.Click.UserAgent
			evt.Metadata.IPAddress = n.Click.IPAddress
			evt.Metadata.ClickURL = n.Click.Link
		}
		out = append(out, evt)
	default:
		// SENT, DROPPED, DEFERRED, UNSUBSCRIBED and unmapped codes all
		// apply to the whole destination list.
		for _, email := range n.Mail.Destination {
			evt := base
			evt.RecipientEmail = normalizeEmail(email)
			if eventType == domain.EventUnsubscribed {
				evt.Metadata.UnsubScope = domain.ScopeOrganization
			}
			out = append(out, evt)
		}
		if len(n.Mail.Destination) == 0 {
			skipped++
		}
	}

	return out, skipped, nil
}
