package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/service/engagement"
)

// EngagementRepo implements engagement.Repository against PostgreSQL.
type EngagementRepo struct{ db *sql.DB }

// NewEngagementRepo creates a Postgres-backed engagement repository.
func NewEngagementRepo(db *sql.DB) *EngagementRepo { return &EngagementRepo{db: db} }

func (r *EngagementRepo) Get(ctx context.Context, subscriberID string) (*domain.SubscriberEngagement, error) {
	var rec domain.SubscriberEngagement
	err := r.db.QueryRowContext(ctx, `
		SELECT subscriber_id, organization_id, email, status, score, open_score, click_score,
		       emails_opened, emails_clicked, bounce_count, last_opened_at, last_clicked_at,
		       created_at, updated_at
		FROM subscriber_engagement
		WHERE subscriber_id = $1
	`, subscriberID).Scan(
		&rec.SubscriberID, &rec.OrganizationID, &rec.Email, &rec.Status,
		&rec.Score, &rec.OpenScore, &rec.ClickScore,
		&rec.EmailsOpened, &rec.EmailsClicked, &rec.BounceCount,
		&rec.LastOpenedAt, &rec.LastClickedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engagement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get engagement: %w", err)
	}
	return &rec, nil
}

func (r *EngagementRepo) Create(ctx context.Context, rec *domain.SubscriberEngagement) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriber_engagement (subscriber_id, organization_id, email, status, score,
		        open_score, click_score, emails_opened, emails_clicked, bounce_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (subscriber_id) DO NOTHING
	`, rec.SubscriberID, rec.OrganizationID, rec.Email, rec.Status, rec.Score,
		rec.OpenScore, rec.ClickScore, rec.EmailsOpened, rec.EmailsClicked, rec.BounceCount,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create engagement: %w", err)
	}
	return nil
}

// Update persists the record and its history marks in one transaction,
// so a first-seen mark never outlives a failed score write.
func (r *EngagementRepo) Update(ctx context.Context, rec *domain.SubscriberEngagement, marks ...engagement.Mark) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update engagement: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE subscriber_engagement
		SET status = $2, score = $3, open_score = $4, click_score = $5,
		    emails_opened = $6, emails_clicked = $7, bounce_count = $8,
		    last_opened_at = $9, last_clicked_at = $10, updated_at = $11
		WHERE subscriber_id = $1
	`, rec.SubscriberID, rec.Status, rec.Score, rec.OpenScore, rec.ClickScore,
		rec.EmailsOpened, rec.EmailsClicked, rec.BounceCount,
		rec.LastOpenedAt, rec.LastClickedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update engagement: %w", err)
	}

	for _, m := range marks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO engagement_history (subscriber_id, message_id, event_type, first_seen_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (subscriber_id, message_id, event_type) DO NOTHING
		`, rec.SubscriberID, m.MessageID, m.Type)
		if err != nil {
			return fmt.Errorf("record engagement history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update engagement: %w", err)
	}
	return nil
}

// SeenForMessage checks the event history for the
// (subscriber, message, type) tuple. Recording happens inside Update.
func (r *EngagementRepo) SeenForMessage(ctx context.Context, subscriberID, messageID string, t domain.EventType) (bool, error) {
	var seen bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM engagement_history
			WHERE subscriber_id = $1 AND message_id = $2 AND event_type = $3
		)
	`, subscriberID, messageID, t).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check engagement history: %w", err)
	}
	return seen, nil
}
