package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) Add(ctx context.Context, e *domain.SuppressionEntry) error {
	// The partial unique index on (email, scope, organization_id,
	// campaign_id) makes re-adding a tuple a no-op.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_entries (id, email, scope, organization_id, campaign_id, reason, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (email, scope, organization_id, campaign_id) DO NOTHING
	`, e.ID, e.Email, e.Scope, e.OrganizationID, e.CampaignID, e.Reason, e.Source, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) Matches(ctx context.Context, email, orgID, campaignID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM suppression_entries
			WHERE email = $1
			  AND (scope = 'global'
			       OR (scope = 'organization' AND $2 <> '' AND organization_id = $2)
			       OR (scope = 'campaign' AND $3 <> '' AND campaign_id = $3))
		)
	`, email, orgID, campaignID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, email string, scope domain.Scope, orgID, campaignID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM suppression_entries
		WHERE email = $1 AND scope = $2 AND organization_id = $3 AND campaign_id = $4
	`, email, scope, orgID, campaignID)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	where := `WHERE ($1 = '' OR scope = $1)
	  AND ($2 = '' OR reason = $2)
	  AND ($3 = '' OR organization_id = $3 OR scope = 'global')
	  AND ($4 = '' OR campaign_id = $4)
	  AND ($5 = '' OR email LIKE '%' || $5 || '%')`
	args := []interface{}{string(f.Scope), string(f.Reason), f.OrganizationID, f.CampaignID, f.Search}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppression_entries `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, scope, organization_id, campaign_id, reason, source, created_at
		FROM suppression_entries `+where+`
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7
	`, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var entries []domain.SuppressionEntry
	for rows.Next() {
		var e domain.SuppressionEntry
		if err := rows.Scan(&e.ID, &e.Email, &e.Scope, &e.OrganizationID, &e.CampaignID, &e.Reason, &e.Source, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
