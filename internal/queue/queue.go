// Package queue decouples webhook acceptance from event processing.
//
// The HTTP handler acknowledges a provider batch as soon as the events
// are verified, normalized and enqueued; all database work happens on
// the consumer side. Two backends share one envelope contract: a
// bounded in-process channel for single-node deployments and SQS when
// ingestion and processing scale separately.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

var (
	// ErrFull is returned when the queue is at capacity. The handler
	// surfaces this as backpressure instead of blocking the webhook
	// response.
	ErrFull = errors.New("queue: at capacity")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue: closed")
)

// Envelope wraps an event with its delivery bookkeeping. Attempts
// counts processing failures so far; the worker re-enqueues with an
// incremented count until the retry budget runs out. Completed is a
// worker-owned bitmask of processing stages that already ran, carried
// through re-enqueues so a retry does not re-apply them.
type Envelope struct {
	Event      domain.NormalizedEvent `json:"event"`
	Attempts   int                    `json:"attempts"`
	Completed  uint8                  `json:"completed,omitempty"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// Sink accepts envelopes for later processing.
type Sink interface {
	Enqueue(ctx context.Context, env Envelope) error
}

// Source yields envelopes to a consumer. Dequeue blocks until an
// envelope is available, the context is cancelled, or the queue closes.
type Source interface {
	Dequeue(ctx context.Context) (Envelope, error)
}

// Queue is a combined sink and source with lifecycle control.
type Queue interface {
	Sink
	Source
	Depth() int
	Close()
}
