// Package tracking serves first-party open, click and unsubscribe
// endpoints. These produce the same normalized events as provider
// webhooks, so the processor treats both sources identically.
//
// Tracking URLs embed a signed token minted at send time. The token is
// base64 of "provider|org|campaign|subscriber|message|email[|url]" and
// the signature is HMAC-SHA256 over the encoded token, so links cannot
// be forged or replayed against other subscribers.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrBadToken covers malformed tokens and signature mismatches.
var ErrBadToken = errors.New("tracking: invalid token")

// Token carries the correlation a tracking link was minted with.
type Token struct {
	Provider     string
	OrgID        string
	CampaignID   string
	SubscriberID string
	MessageID    string
	Email        string
	LinkURL      string
}

// Signer mints and verifies signed tracking tokens.
type Signer struct {
	key []byte
}

// NewSigner creates a signer from the shared tracking key.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Encode returns the URL-safe token and its signature.
func (s *Signer) Encode(t Token) (data, sig string) {
	fields := []string{t.Provider, t.OrgID, t.CampaignID, t.SubscriberID, t.MessageID, t.Email}
	if t.LinkURL != "" {
		fields = append(fields, t.LinkURL)
	}
	raw := strings.Join(fields, "|")
	data = base64.URLEncoding.EncodeToString([]byte(raw))
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return data, hex.EncodeToString(mac.Sum(nil))
}

// Decode verifies the signature and unpacks the token.
func (s *Signer) Decode(data, sig string) (Token, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	want, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(mac.Sum(nil), want) {
		return Token{}, ErrBadToken
	}

	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) < 6 {
		return Token{}, ErrBadToken
	}
	t := Token{
		Provider:     parts[0],
		OrgID:        parts[1],
		CampaignID:   parts[2],
		SubscriberID: parts[3],
		MessageID:    parts[4],
		Email:        parts[5],
	}
	if len(parts) > 6 {
		// The link URL may itself contain separators; rejoin the tail.
		t.LinkURL = strings.Join(parts[6:], "|")
	}
	return t, nil
}
