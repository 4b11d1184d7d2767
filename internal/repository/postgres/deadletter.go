package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propel-crm/email-events/internal/queue"
)

// DeadLetterRepo persists events that exhausted their retry budget, for
// manual inspection and replay.
type DeadLetterRepo struct{ db *sql.DB }

// NewDeadLetterRepo creates a Postgres-backed dead letter store.
func NewDeadLetterRepo(db *sql.DB) *DeadLetterRepo { return &DeadLetterRepo{db: db} }

func (r *DeadLetterRepo) Park(ctx context.Context, env queue.Envelope, cause string) error {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, provider, event_type, recipient_email, attempts, cause, payload, enqueued_at, parked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.NewString(), env.Event.Provider, env.Event.Type, env.Event.RecipientEmail,
		env.Attempts, cause, payload, env.EnqueuedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("park dead letter: %w", err)
	}
	return nil
}

// DeadLetter is one parked event as stored.
type DeadLetter struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	EventType      string    `json:"event_type"`
	RecipientEmail string    `json:"recipient_email"`
	Attempts       int       `json:"attempts"`
	Cause          string    `json:"cause"`
	Payload        []byte    `json:"payload"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	ParkedAt       time.Time `json:"parked_at"`
}

// List returns parked events, newest first.
func (r *DeadLetterRepo) List(ctx context.Context, limit, offset int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, event_type, recipient_email, attempts, cause, payload, enqueued_at, parked_at
		FROM dead_letters
		ORDER BY parked_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.Provider, &d.EventType, &d.RecipientEmail, &d.Attempts, &d.Cause, &d.Payload, &d.EnqueuedAt, &d.ParkedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
