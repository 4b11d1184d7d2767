// Package normalize translates raw provider webhook payloads into the
// canonical NormalizedEvent schema.
//
// One normalizer per provider, registered in a fixed table. Providers
// are known at compile time, so dispatch is a map lookup on the enum.
// Each normalizer owns an explicit mapping table from provider-native
// event codes to the canonical taxonomy; codes missing from the table
// resolve to EventFailed so taxonomy drift shows up in stats instead of
// vanishing.
//
// A single malformed array element never fails the batch: providers
// deliver up to hundreds of events per call and one bad record must not
// sacrifice the rest. Skipped elements are counted and reported back in
// the ingest response.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// Normalizer parses one provider's payload convention.
type Normalizer interface {
	Provider() domain.Provider

	// Normalize produces zero or more canonical events from a verified
	// payload. skipped counts malformed elements that were dropped;
	// err is non-nil only when the body as a whole is unparseable.
	Normalize(body []byte, receivedAt time.Time) (events []domain.NormalizedEvent, skipped int, err error)
}

// Registry holds the closed set of normalizers.
type Registry struct {
	normalizers map[domain.Provider]Normalizer
}

// NewRegistry builds a registry from the given normalizers.
func NewRegistry(ns ...Normalizer) *Registry {
	r := &Registry{normalizers: make(map[domain.Provider]Normalizer, len(ns))}
	for _, n := range ns {
		r.normalizers[n.Provider()] = n
	}
	return r
}

// Normalize dispatches to the provider's normalizer.
func (r *Registry) Normalize(p domain.Provider, body []byte, receivedAt time.Time) ([]domain.NormalizedEvent, int, error) {
	n, ok := r.normalizers[p]
	if !ok {
		return nil, 0, fmt.Errorf("no normalizer registered for provider %q", p)
	}
	return n.Normalize(body, receivedAt)
}

// Default returns a registry covering every supported provider.
func Default() *Registry {
	return NewRegistry(
		&SparkPost{},
		&Mailgun{},
		&SES{},
		&SendGrid{},
	)
}

// mapCode resolves a provider code through a mapping table. Unknown
// codes land in EventFailed, never dropped.
func mapCode(table map[string]domain.EventType, code string) domain.EventType {
	if t, ok := table[strings.ToLower(code)]; ok {
		return t
	}
	return domain.EventFailed
}

// parseEventTime accepts the timestamp conventions seen across
// providers: unix seconds (integer or fractional string) and RFC3339.
// Providers batch and deliver late, so the event-reported time matters;
// only when it is absent or unreadable does the ingestion time stand in.
func parseEventTime(raw string, receivedAt time.Time) time.Time {
	if raw == "" {
		return receivedAt
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return receivedAt
}

// normalizeEmail lowercases and trims a recipient address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
