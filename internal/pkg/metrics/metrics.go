// Package metrics exposes Prometheus collectors for the ingestion
// pipeline. Helpers follow the Record*/Update* naming so call sites stay
// one-liners and never touch prometheus types directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_events",
		Name:      "received_total",
		Help:      "Normalized events accepted at the webhook boundary, by provider.",
	}, []string{"provider"})

	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_events",
		Name:      "processed_total",
		Help:      "Events fully applied by the processor, by canonical type.",
	}, []string{"event_type"})

	eventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "email_events",
		Name:      "duplicate_total",
		Help:      "Events rejected by the deduplication gate.",
	})

	eventsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_events",
		Name:      "malformed_total",
		Help:      "Payload elements skipped as unparseable, by provider.",
	}, []string{"provider"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "email_events",
		Name:      "auth_failures_total",
		Help:      "Webhook requests rejected by signature verification.",
	}, []string{"provider"})

	deadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "email_events",
		Name:      "dead_letters_total",
		Help:      "Events parked after exhausting processing retries.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "email_events",
		Name:      "queue_depth",
		Help:      "Events currently waiting in the ingestion queue.",
	})

	retries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "email_events",
		Name:      "processing_retries_total",
		Help:      "Processing attempts beyond the first.",
	})
)

// RecordReceived counts an event admitted at the boundary.
func RecordReceived(provider string) { eventsReceived.WithLabelValues(provider).Inc() }

// RecordProcessed counts a fully applied event.
func RecordProcessed(eventType string) { eventsProcessed.WithLabelValues(eventType).Inc() }

// RecordDuplicate counts a dedup-gate rejection.
func RecordDuplicate() { eventsDuplicate.Inc() }

// RecordMalformed counts a skipped unparseable payload element.
func RecordMalformed(provider string) { eventsMalformed.WithLabelValues(provider).Inc() }

// RecordAuthFailure counts a signature verification rejection.
func RecordAuthFailure(provider string) { authFailures.WithLabelValues(provider).Inc() }

// RecordDeadLetter counts an event parked for manual review.
func RecordDeadLetter() { deadLetters.Inc() }

// RecordRetry counts a processing retry.
func RecordRetry() { retries.Inc() }

// UpdateQueueDepth sets the current ingestion queue depth.
func UpdateQueueDepth(n int) { queueDepth.Set(float64(n)) }
