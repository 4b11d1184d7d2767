package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

var received = time.Date(2026, 5, 12, 16, 0, 0, 0, time.UTC)

func TestSparkPost_BatchWithMalformedElement(t *testing.T) {
	// Two good events and one unparseable element: the bad one is
	// skipped, the siblings survive, and nothing errors.
	body := []byte(fmt.Sprintf(`[
		{"msys":{"message_event":{"type":"delivery","event_id":"e1","message_id":"m1","rcpt_to":"a@example.com","timestamp":"%d"}}},
		{"msys":{"message_event":"not-an-object"}},
		{"msys":{"track_event":{"type":"open","event_id":"e2","message_id":"m1","rcpt_to":"a@example.com","timestamp":"%d"}}}
	]`, received.Unix(), received.Unix()))

	events, skipped, err := (SparkPost{}).Normalize(body, received)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if events[0].Type != domain.EventDelivered || events[1].Type != domain.EventOpened {
		t.Errorf("types = %s, %s", events[0].Type, events[1].Type)
	}
}

func TestSparkPost_BounceClassification(t *testing.T) {
	tests := []struct {
		class string
		want  domain.BounceClass
	}{
		{"10", domain.BounceHard},
		{"30", domain.BounceHard},
		{"20", domain.BounceSoft},
		{"60", domain.BounceSoft},
	}
	for _, tt := range tests {
		body := []byte(`[{"msys":{"message_event":{"type":"bounce","event_id":"e1","message_id":"m1","rcpt_to":"b@example.com","bounce_class":"` + tt.class + `","reason":"550 user unknown"}}}]`)
		events, _, err := (SparkPost{}).Normalize(body, received)
		if err != nil || len(events) != 1 {
			t.Fatalf("class %s: events=%d err=%v", tt.class, len(events), err)
		}
		if events[0].Metadata.BounceClass != tt.want {
			t.Errorf("class %s → %s, want %s", tt.class, events[0].Metadata.BounceClass, tt.want)
		}
	}
}

func TestSparkPost_UnknownCodeMapsToFailed(t *testing.T) {
	body := []byte(`[{"msys":{"message_event":{"type":"sms_status","event_id":"e9","message_id":"m9","rcpt_to":"c@example.com"}}}]`)

	events, skipped, err := (SparkPost{}).Normalize(body, received)
	if err != nil || skipped != 0 {
		t.Fatalf("err=%v skipped=%d", err, skipped)
	}
	if len(events) != 1 || events[0].Type != domain.EventFailed {
		t.Fatalf("unknown code must bucket to failed, got %+v", events)
	}
	if events[0].Metadata.ProviderCode != "sms_status" {
		t.Errorf("provider code not preserved: %q", events[0].Metadata.ProviderCode)
	}
}

func TestSparkPost_CorrelationFromRcptMeta(t *testing.T) {
	body := []byte(`[{"msys":{"track_event":{"type":"click","event_id":"e3","message_id":"m3","rcpt_to":"d@example.com","target_link_url":"https://x.co/p","rcpt_meta":{"campaign_id":"camp-9","subscriber_id":"sub-4","org_id":"org-1"}}}}]`)

	events, _, err := (SparkPost{}).Normalize(body, received)
	if err != nil || len(events) != 1 {
		t.Fatalf("events=%d err=%v", len(events), err)
	}
	c := events[0].Correlation
	if c.CampaignID != "camp-9" || c.SubscriberID != "sub-4" || c.OrganizationID != "org-1" {
		t.Errorf("correlation = %+v", c)
	}
	if events[0].Metadata.ClickURL != "https://x.co/p" {
		t.Errorf("click url = %q", events[0].Metadata.ClickURL)
	}
}

func TestSparkPost_MissingCorrelationStillEmits(t *testing.T) {
	body := []byte(`[{"msys":{"track_event":{"type":"open","event_id":"e5","message_id":"m5","rcpt_to":"e@example.com"}}}]`)

	events, _, err := (SparkPost{}).Normalize(body, received)
	if err != nil || len(events) != 1 {
		t.Fatalf("events without correlation must still emit: %v", err)
	}
	if events[0].Correlation.CampaignID != "" {
		t.Errorf("unexpected correlation %+v", events[0].Correlation)
	}
}

func TestMailgun_PermanentFailureIsHardBounce(t *testing.T) {
	body := []byte(`{"event-data":{"event":"failed","id":"mg-1","timestamp":1747065600.5,"recipient":"Alice@Example.com","severity":"permanent","reason":"suppress-bounce","delivery-status":{"code":550,"message":"mailbox unavailable"}}}`)

	events, skipped, err := (Mailgun{}).Normalize(body, received)
	if err != nil || skipped != 0 || len(events) != 1 {
		t.Fatalf("events=%d skipped=%d err=%v", len(events), skipped, err)
	}
	e := events[0]
	if e.Type != domain.EventBounced || e.Metadata.BounceClass != domain.BounceHard {
		t.Errorf("got %s/%s, want bounced/hard", e.Type, e.Metadata.BounceClass)
	}
	if e.RecipientEmail != "alice@example.com" {
		t.Errorf("email not normalized: %q", e.RecipientEmail)
	}
	if e.Metadata.DSNCode != "550" {
		t.Errorf("dsn = %q", e.Metadata.DSNCode)
	}
	if got := e.OccurredAt.Unix(); got != 1747065600 {
		t.Errorf("occurredAt = %d, want event-reported time", got)
	}
}

func TestMailgun_TemporaryFailureIsDeferred(t *testing.T) {
	body := []byte(`{"event-data":{"event":"failed","id":"mg-2","recipient":"b@example.com","severity":"temporary","reason":"greylisted"}}`)

	events, _, err := (Mailgun{}).Normalize(body, received)
	if err != nil || len(events) != 1 {
		t.Fatalf("events=%d err=%v", len(events), err)
	}
	if events[0].Type != domain.EventDeferred {
		t.Errorf("type = %s, want deferred", events[0].Type)
	}
	if events[0].Metadata.BounceClass != "" {
		t.Errorf("deferred event must carry no bounce class")
	}
}

func TestMailgun_UnsubscribeScopeFromCorrelation(t *testing.T) {
	withCampaign := []byte(`{"event-data":{"event":"unsubscribed","id":"mg-3","recipient":"c@example.com","user-variables":{"campaign_id":"camp-1"}}}`)
	events, _, _ := (Mailgun{}).Normalize(withCampaign, received)
	if events[0].Metadata.UnsubScope != domain.ScopeCampaign {
		t.Errorf("scope = %s, want campaign", events[0].Metadata.UnsubScope)
	}

	without := []byte(`{"event-data":{"event":"unsubscribed","id":"mg-4","recipient":"c@example.com"}}`)
	events, _, _ = (Mailgun{}).Normalize(without, received)
	if events[0].Metadata.UnsubScope != domain.ScopeOrganization {
		t.Errorf("scope = %s, want organization", events[0].Metadata.UnsubScope)
	}
}

func TestMailgun_EmptyEventSkipped(t *testing.T) {
	events, skipped, err := (Mailgun{}).Normalize([]byte(`{"signature":{}}`), received)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(events) != 0 || skipped != 1 {
		t.Errorf("events=%d skipped=%d, want 0/1", len(events), skipped)
	}
}

func sesNotificationBody(message string) []byte {
	b, _ := json.Marshal(map[string]string{
		"Type":      "Notification",
		"MessageId": "sns-123",
		"Message":   message,
	})
	return b
}

func TestSES_BounceFansOutPerRecipient(t *testing.T) {
	msg := `{"eventType":"Bounce","mail":{"messageId":"ses-m1","timestamp":"2026-05-12T15:50:00Z","destination":["x@example.com","y@example.com"],"tags":{"campaign_id":["camp-7"]}},"bounce":{"bounceType":"Permanent","bounceSubType":"General","feedbackId":"fb-1","timestamp":"2026-05-12T15:55:00Z","bouncedRecipients":[{"emailAddress":"x@example.com","diagnosticCode":"550"},{"emailAddress":"y@example.com"}]}}`

	events, skipped, err := (SES{}).Normalize(sesNotificationBody(msg), received)
	if err != nil || skipped != 0 {
		t.Fatalf("err=%v skipped=%d", err, skipped)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want one per bounced recipient", len(events))
	}
	for _, e := range events {
		if e.Type != domain.EventBounced || e.Metadata.BounceClass != domain.BounceHard {
			t.Errorf("event %+v not a hard bounce", e)
		}
		if e.Correlation.CampaignID != "camp-7" {
			t.Errorf("campaign tag lost: %+v", e.Correlation)
		}
	}
	if !events[0].OccurredAt.Equal(time.Date(2026, 5, 12, 15, 55, 0, 0, time.UTC)) {
		t.Errorf("occurredAt = %v, want bounce timestamp", events[0].OccurredAt)
	}
}

func TestSES_SubscriptionConfirmationYieldsNothing(t *testing.T) {
	body := []byte(`{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.example/confirm"}`)

	events, skipped, err := (SES{}).Normalize(body, received)
	if err != nil || len(events) != 0 || skipped != 0 {
		t.Errorf("confirmation must be a no-op: events=%d skipped=%d err=%v", len(events), skipped, err)
	}
}

func TestSES_TransientBounceIsSoft(t *testing.T) {
	msg := `{"eventType":"Bounce","mail":{"messageId":"ses-m2","destination":["z@example.com"]},"bounce":{"bounceType":"Transient","bouncedRecipients":[{"emailAddress":"z@example.com"}]}}`

	events, _, err := (SES{}).Normalize(sesNotificationBody(msg), received)
	if err != nil || len(events) != 1 {
		t.Fatalf("events=%d err=%v", len(events), err)
	}
	if events[0].Metadata.BounceClass != domain.BounceSoft {
		t.Errorf("transient bounce classified %s", events[0].Metadata.BounceClass)
	}
}

func TestSES_ComplaintMapsToSpamReport(t *testing.T) {
	msg := `{"notificationType":"Complaint","mail":{"messageId":"ses-m3","destination":["w@example.com"]},"complaint":{"complainedRecipients":[{"emailAddress":"w@example.com"}],"complaintFeedbackType":"abuse","feedbackId":"fb-9"}}`

	events, _, err := (SES{}).Normalize(sesNotificationBody(msg), received)
	if err != nil || len(events) != 1 {
		t.Fatalf("events=%d err=%v", len(events), err)
	}
	if events[0].Type != domain.EventSpamReport {
		t.Errorf("type = %s", events[0].Type)
	}
}

func TestSendGrid_BatchAndUnknownCode(t *testing.T) {
	body := []byte(`[
		{"event":"delivered","email":"a@example.com","timestamp":1747065600,"sg_event_id":"sg-1","sg_message_id":"sgm-1"},
		{"event":"machine_opened","email":"a@example.com","timestamp":1747065601,"sg_event_id":"sg-2","sg_message_id":"sgm-1"},
		"garbage",
		{"event":"spamreport","email":"a@example.com","timestamp":1747065602,"sg_event_id":"sg-3","sg_message_id":"sgm-1"}
	]`)

	events, skipped, err := (SendGrid{}).Normalize(body, received)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 3 || skipped != 1 {
		t.Fatalf("events=%d skipped=%d, want 3/1", len(events), skipped)
	}
	if events[1].Type != domain.EventFailed {
		t.Errorf("unknown code = %s, want failed", events[1].Type)
	}
	if events[2].Type != domain.EventSpamReport {
		t.Errorf("spamreport = %s", events[2].Type)
	}
}

func TestSendGrid_BlockedBounceIsSoft(t *testing.T) {
	body := []byte(`[{"event":"bounce","type":"blocked","email":"b@example.com","sg_event_id":"sg-4","reason":"IP blocked"}]`)

	events, _, err := (SendGrid{}).Normalize(body, received)
	if err != nil || len(events) != 1 {
		t.Fatalf("events=%d err=%v", len(events), err)
	}
	if events[0].Metadata.BounceClass != domain.BounceSoft {
		t.Errorf("blocked bounce = %s, want soft", events[0].Metadata.BounceClass)
	}
}

func TestRegistry_DispatchAndUnknownProvider(t *testing.T) {
	r := Default()

	if _, _, err := r.Normalize("postmark", []byte(`{}`), received); err == nil {
		t.Fatal("unknown provider must error")
	}

	body := []byte(`[{"event":"open","email":"a@example.com","sg_event_id":"sg-9","timestamp":1747065600}]`)
	events, _, err := r.Normalize(domain.ProviderSendGrid, body, received)
	if err != nil || len(events) != 1 {
		t.Fatalf("dispatch failed: %v", err)
	}
	if events[0].Provider != domain.ProviderSendGrid {
		t.Errorf("provider = %s", events[0].Provider)
	}
}

func TestParseEventTime_FallsBackToReceivedAt(t *testing.T) {
	if got := parseEventTime("", received); !got.Equal(received) {
		t.Errorf("empty → %v", got)
	}
	if got := parseEventTime("garbage", received); !got.Equal(received) {
		t.Errorf("garbage → %v", got)
	}
	if got := parseEventTime("1747065600", received); got.Unix() != 1747065600 {
		t.Errorf("unix → %v", got)
	}
	if got := parseEventTime("2026-05-12T15:00:00Z", received); got.Hour() != 15 {
		t.Errorf("rfc3339 → %v", got)
	}
}
