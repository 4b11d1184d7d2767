package queue

import (
	"context"
	"sync"

	"github.com/propel-crm/email-events/internal/pkg/metrics"
)

// Memory is a bounded in-process queue. Enqueue never blocks: when the
// buffer is full the caller gets ErrFull and the provider retries the
// batch later.
type Memory struct {
	ch chan Envelope

	mu     sync.Mutex
	closed bool
}

// NewMemory creates a queue holding up to capacity envelopes.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{ch: make(chan Envelope, capacity)}
}

func (m *Memory) Enqueue(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Close holds the same lock, so the channel cannot be closed
	// between the check and the non-blocking send.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- env:
		metrics.UpdateQueueDepth(len(m.ch))
		return nil
	default:
		return ErrFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (Envelope, error) {
	select {
	case env, ok := <-m.ch:
		if !ok {
			return Envelope{}, ErrClosed
		}
		metrics.UpdateQueueDepth(len(m.ch))
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Depth reports the number of buffered envelopes.
func (m *Memory) Depth() int { return len(m.ch) }

// Close stops the queue. Buffered envelopes remain dequeueable until
// drained.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}
