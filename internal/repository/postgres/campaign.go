package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/service/campaign"
)

// counterColumns whitelists the incrementable columns. Counter values
// come from the enum, but the column name is interpolated into SQL, so
// the lookup stays explicit.
var counterColumns = map[domain.Counter]string{
	domain.CounterDelivered:     "delivered_count",
	domain.CounterOpened:        "open_count",
	domain.CounterUniqueOpened:  "unique_open_count",
	domain.CounterClicked:       "click_count",
	domain.CounterUniqueClicked: "unique_click_count",
	domain.CounterBounced:       "bounce_count",
	domain.CounterUnsubscribed:  "unsubscribe_count",
	domain.CounterSpamReports:   "complaint_count",
}

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

// Increment upserts the row and bumps one counter in a single
// statement, so concurrent processors never lose an update.
func (r *CampaignRepo) Increment(ctx context.Context, campaignID string, c domain.Counter) error {
	col, ok := counterColumns[c]
	if !ok {
		return fmt.Errorf("unknown counter %q", c)
	}
	q := fmt.Sprintf(`
		INSERT INTO campaign_counters (campaign_id, %s)
		VALUES ($1, 1)
		ON CONFLICT (campaign_id) DO UPDATE SET %s = campaign_counters.%s + 1
	`, col, col, col)
	if _, err := r.db.ExecContext(ctx, q, campaignID); err != nil {
		return fmt.Errorf("increment %s: %w", col, err)
	}
	return nil
}

func (r *CampaignRepo) FirstForCampaign(ctx context.Context, subscriberID, campaignID string, t domain.EventType) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_engagement_history (subscriber_id, campaign_id, event_type, first_seen_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subscriber_id, campaign_id, event_type) DO NOTHING
	`, subscriberID, campaignID, t)
	if err != nil {
		return false, fmt.Errorf("record campaign history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *CampaignRepo) Counters(ctx context.Context, campaignID string) (*domain.CampaignCounters, error) {
	var c domain.CampaignCounters
	err := r.db.QueryRowContext(ctx, `
		SELECT campaign_id, delivered_count, open_count, unique_open_count, click_count,
		       unique_click_count, bounce_count, unsubscribe_count, complaint_count
		FROM campaign_counters
		WHERE campaign_id = $1
	`, campaignID).Scan(
		&c.CampaignID, &c.Delivered, &c.Opened, &c.UniqueOpened, &c.Clicked,
		&c.UniqueClicked, &c.Bounced, &c.Unsubscribed, &c.SpamReports,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign counters: %w", err)
	}
	return &c, nil
}
