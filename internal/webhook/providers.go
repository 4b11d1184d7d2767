package webhook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// Header names per provider scheme.
const (
	sparkpostSigHeader = "X-Messagesystems-Signature"
	sparkpostTSHeader  = "X-Messagesystems-Timestamp"

	sendgridSigHeader = "X-Twilio-Email-Event-Webhook-Signature"
	sendgridTSHeader  = "X-Twilio-Email-Event-Webhook-Timestamp"

	sesSigHeader = "X-Webhook-Signature"
	sesTSHeader  = "X-Webhook-Timestamp"
)

// SparkPostVerifier checks HMAC-SHA256 over "timestamp.body".
type SparkPostVerifier struct {
	secret []byte
	skew   time.Duration
}

// NewSparkPostVerifier creates a SparkPost webhook verifier.
func NewSparkPostVerifier(secret string, skew time.Duration) *SparkPostVerifier {
	return &SparkPostVerifier{secret: []byte(secret), skew: skew}
}

func (v *SparkPostVerifier) Provider() domain.Provider { return domain.ProviderSparkPost }

func (v *SparkPostVerifier) Verify(body []byte, header http.Header, now time.Time) Result {
	raw := header.Get(sparkpostTSHeader)
	if _, reason := parseTimestamp(raw, now, v.skew); reason != "" {
		return reject(reason)
	}
	sig := header.Get(sparkpostSigHeader)
	if sig == "" {
		return reject("missing signature")
	}

	payload := make([]byte, 0, len(raw)+1+len(body))
	payload = append(payload, raw...)
	payload = append(payload, '.')
	payload = append(payload, body...)
	if !equalHex(sig, signHex(v.secret, payload)) {
		return reject("signature mismatch")
	}
	return accepted
}

// SendGridVerifier checks HMAC-SHA256 over "timestamp+body".
type SendGridVerifier struct {
	secret []byte
	skew   time.Duration
}

// NewSendGridVerifier creates a SendGrid webhook verifier.
func NewSendGridVerifier(secret string, skew time.Duration) *SendGridVerifier {
	return &SendGridVerifier{secret: []byte(secret), skew: skew}
}

func (v *SendGridVerifier) Provider() domain.Provider { return domain.ProviderSendGrid }

func (v *SendGridVerifier) Verify(body []byte, header http.Header, now time.Time) Result {
	raw := header.Get(sendgridTSHeader)
	if _, reason := parseTimestamp(raw, now, v.skew); reason != "" {
		return reject(reason)
	}
	sig := header.Get(sendgridSigHeader)
	if sig == "" {
		return reject("missing signature")
	}

	payload := append([]byte(raw), body...)
	if !equalHex(sig, signHex(v.secret, payload)) {
		return reject("signature mismatch")
	}
	return accepted
}

// SESVerifier checks the endpoint-level shared secret on SNS-wrapped SES
// notifications: HMAC-SHA256 over "timestamp.body". SNS subscription
// confirmations carry the same headers, so they pass through here too.
type SESVerifier struct {
	secret []byte
	skew   time.Duration
}

// NewSESVerifier creates an SES webhook verifier.
func NewSESVerifier(secret string, skew time.Duration) *SESVerifier {
	return &SESVerifier{secret: []byte(secret), skew: skew}
}

func (v *SESVerifier) Provider() domain.Provider { return domain.ProviderSES }

func (v *SESVerifier) Verify(body []byte, header http.Header, now time.Time) Result {
	raw := header.Get(sesTSHeader)
	if _, reason := parseTimestamp(raw, now, v.skew); reason != "" {
		return reject(reason)
	}
	sig := header.Get(sesSigHeader)
	if sig == "" {
		return reject("missing signature")
	}

	payload := make([]byte, 0, len(raw)+1+len(body))
	payload = append(payload, raw...)
	payload = append(payload, '.')
	payload = append(payload, body...)
	if !equalHex(sig, signHex(v.secret, payload)) {
		return reject("signature mismatch")
	}
	return accepted
}

// MailgunVerifier checks Mailgun's documented scheme: the signature
// block rides inside the JSON body and signs "timestamp + token" with
// the account signing key.
type MailgunVerifier struct {
	signingKey []byte
	skew       time.Duration
}

// NewMailgunVerifier creates a Mailgun webhook verifier.
func NewMailgunVerifier(signingKey string, skew time.Duration) *MailgunVerifier {
	return &MailgunVerifier{signingKey: []byte(signingKey), skew: skew}
}

func (v *MailgunVerifier) Provider() domain.Provider { return domain.ProviderMailgun }

type mailgunSignature struct {
	Signature struct {
		Timestamp string `json:"timestamp"`
		Token     string `json:"token"`
		Signature string `json:"signature"`
	} `json:"signature"`
}

func (v *MailgunVerifier) Verify(body []byte, header http.Header, now time.Time) Result {
	var env mailgunSignature
	if err := json.Unmarshal(body, &env); err != nil {
		return reject("unreadable signature envelope")
	}

	sig := env.Signature
	if _, reason := parseTimestamp(sig.Timestamp, now, v.skew); reason != "" {
		return reject(reason)
	}
	if sig.Signature == "" || sig.Token == "" {
		return reject("missing signature")
	}

	if !equalHex(sig.Signature, signHex(v.signingKey, []byte(sig.Timestamp+sig.Token))) {
		return reject("signature mismatch")
	}
	return accepted
}
