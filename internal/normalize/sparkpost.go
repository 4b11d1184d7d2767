package normalize

import (
	"encoding/json"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// SparkPost parses the msys-wrapped batch format. Each array element
// wraps exactly one of message_event, track_event, gen_event or
// unsubscribe_event.
type SparkPost struct{}

func (SparkPost) Provider() domain.Provider { return domain.ProviderSparkPost }

// sparkpostCodes maps msys event types to the canonical taxonomy.
var sparkpostCodes = map[string]domain.EventType{
	"injection":            domain.EventQueued,
	"delivery":             domain.EventDelivered,
	"open":                 domain.EventOpened,
	"initial_open":         domain.EventOpened,
	"click":                domain.EventClicked,
	"bounce":               domain.EventBounced,
	"out_of_band":          domain.EventBounced,
	"delay":                domain.EventDeferred,
	"policy_rejection":     domain.EventDropped,
	"generation_rejection": domain.EventDropped,
	"spam_complaint":       domain.EventSpamReport,
	"list_unsubscribe":     domain.EventUnsubscribed,
	"link_unsubscribe":     domain.EventUnsubscribed,
	"generation_failure":   domain.EventFailed,
}

// Hard bounce classes per SparkPost's bounce classification table.
var sparkpostHardBounces = map[string]bool{"10": true, "25": true, "30": true, "90": true}

type sparkpostEventData struct {
	Type          string            `json:"type"`
	EventID       string            `json:"event_id"`
	MessageID     string            `json:"message_id"`
	RcptTo        string            `json:"rcpt_to"`
	Timestamp     string            `json:"timestamp"`
	BounceClass   string            `json:"bounce_class"`
	Reason        string            `json:"reason"`
	ErrorCode     string            `json:"error_code"`
	TargetLinkURL string            `json:"target_link_url"`
	UserAgent     string            `json:"user_agent"`
	IPAddress     string            `json:"ip_address"`
	RcptMeta      map[string]string `json:"rcpt_meta"`
}

type sparkpostEnvelope struct {
	Msys map[string]json.RawMessage `json:"msys"`
}

func (SparkPost) Normalize(body []byte, receivedAt time.Time) ([]domain.NormalizedEvent, int, error) {
	var batch []sparkpostEnvelope
	if err := json.Unmarshal(body, &batch); err != nil {
		// Single-object deliveries happen on webhook test pings.
		var one sparkpostEnvelope
		if err2 := json.Unmarshal(body, &one); err2 != nil {
			return nil, 0, err
		}
		batch = []sparkpostEnvelope{one}
	}

	events := make([]domain.NormalizedEvent, 0, len(batch))
	skipped := 0

	for _, env := range batch {
		if len(env.Msys) == 0 {
			skipped++
			continue
		}
		for category, raw := range env.Msys {
			var data sparkpostEventData
			if err := json.Unmarshal(raw, &data); err != nil {
				skipped++
				continue
			}
			// unsubscribe_event wrappers omit the type field.
			if data.Type == "" && category == "unsubscribe_event" {
				data.Type = "list_unsubscribe"
			}
			if data.Type == "" || data.RcptTo == "" {
				skipped++
				continue
			}

			evt := domain.NormalizedEvent{
				Provider:          domain.ProviderSparkPost,
				ProviderMessageID: data.MessageID,
				ProviderEventID:   data.EventID,
				Type:              mapCode(sparkpostCodes, data.Type),
				RecipientEmail:    normalizeEmail(data.RcptTo),
				OccurredAt:        parseEventTime(data.Timestamp, receivedAt),
				Correlation: domain.Correlation{
					OrganizationID: data.RcptMeta["org_id"],
					CampaignID:     data.RcptMeta["campaign_id"],
					SubscriberID:   data.RcptMeta["subscriber_id"],
					MessageID:      data.MessageID,
				},
				Metadata: domain.EventMetadata{
					ProviderCode: data.Type,
					ClickURL:     data.TargetLinkURL,
					UserAgent:    data.UserAgent,
					IPAddress:    data.IPAddress,
				},
			}

			if evt.Type == domain.EventBounced {
				evt.Metadata.BounceClass = domain.BounceSoft
				if sparkpostHardBounces[data.BounceClass] {
					evt.Metadata.BounceClass = domain.BounceHard
				}
				evt.Metadata.BounceReason = data.Reason
				evt.Metadata.DSNCode = data.ErrorCode
			}
			if evt.Type == domain.EventUnsubscribed {
				// link_unsubscribe came from a campaign's own footer;
				// list_unsubscribe is the mailbox-provider header action.
				if data.Type == "link_unsubscribe" && evt.Correlation.CampaignID != "" {
					evt.Metadata.UnsubScope = domain.ScopeCampaign
				} else {
					evt.Metadata.UnsubScope = domain.ScopeOrganization
				}
			}

			events = append(events, evt)
		}
	}
	return events, skipped, nil
}
