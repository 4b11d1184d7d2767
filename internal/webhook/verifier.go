// Package webhook authenticates inbound provider callbacks before any
// payload parsing happens. Each provider has its own signing scheme; the
// rules shared by all of them are a bounded timestamp skew (replay
// defense) and constant-time signature comparison.
//
// Verification failure is terminal for the request: the body is never
// handed to a normalizer and the boundary answers 401.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// Result is the outcome of signature verification. Reason is set only
// when Valid is false and is safe to log (it never echoes the payload).
type Result struct {
	Valid  bool
	Reason string
}

func reject(reason string) Result { return Result{Valid: false, Reason: reason} }

var accepted = Result{Valid: true}

// Verifier authenticates one provider's webhook requests.
type Verifier interface {
	Provider() domain.Provider

	// Verify checks the request signature against the raw body. The
	// body is passed separately because handlers read it once up front
	// (the request body is consumed by then).
	Verify(body []byte, header http.Header, now time.Time) Result
}

// Registry maps providers to their verifiers. The set is fixed at
// construction; lookups for unregistered providers fail closed.
type Registry struct {
	verifiers map[domain.Provider]Verifier
}

// NewRegistry builds a registry from the given verifiers.
func NewRegistry(vs ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[domain.Provider]Verifier, len(vs))}
	for _, v := range vs {
		r.verifiers[v.Provider()] = v
	}
	return r
}

// Verify dispatches to the provider's verifier. Unknown providers are
// rejected, never passed through.
func (r *Registry) Verify(p domain.Provider, body []byte, header http.Header, now time.Time) Result {
	v, ok := r.verifiers[p]
	if !ok {
		return reject("no verifier registered for provider")
	}
	return v.Verify(body, header, now)
}

// signHex computes the hex-encoded HMAC-SHA256 of data under key.
func signHex(key []byte, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// equalHex compares a provided hex signature with an expected one in
// constant time. Decoding failures count as mismatch.
func equalHex(provided, expected string) bool {
	p, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	e, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	return hmac.Equal(p, e)
}

// parseTimestamp accepts unix seconds or RFC3339 and enforces the skew
// bound in both directions.
func parseTimestamp(raw string, now time.Time, skew time.Duration) (time.Time, string) {
	if raw == "" {
		return time.Time{}, "missing timestamp"
	}

	var ts time.Time
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		ts = time.Unix(secs, 0)
	} else if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = parsed
	} else {
		return time.Time{}, "unparseable timestamp"
	}

	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > skew {
		return time.Time{}, "timestamp outside allowed skew"
	}
	return ts, ""
}
