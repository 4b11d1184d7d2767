package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/queue"
	"github.com/propel-crm/email-events/internal/service/campaign"
	"github.com/propel-crm/email-events/internal/service/engagement"
)

func TestCampaignRepo_IncrementUpserts(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO campaign_counters \(campaign_id, open_count\)`).
		WithArgs("camp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewCampaignRepo(db)
	if err := repo.Increment(context.Background(), "camp-1", domain.CounterOpened); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCampaignRepo_IncrementRejectsUnknownCounter(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	repo := NewCampaignRepo(db)
	if err := repo.Increment(context.Background(), "camp-1", domain.Counter("drop_table")); err == nil {
		t.Fatal("unknown counter accepted")
	}
}

func TestCampaignRepo_FirstForCampaign(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// First insert lands a row, the repeat conflicts away.
	mock.ExpectExec(`INSERT INTO campaign_engagement_history`).
		WithArgs("sub-1", "camp-1", string(domain.EventOpened)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO campaign_engagement_history`).
		WithArgs("sub-1", "camp-1", string(domain.EventOpened)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewCampaignRepo(db)
	first, err := repo.FirstForCampaign(context.Background(), "sub-1", "camp-1", domain.EventOpened)
	if err != nil || !first {
		t.Fatalf("first=%v err=%v", first, err)
	}
	first, err = repo.FirstForCampaign(context.Background(), "sub-1", "camp-1", domain.EventOpened)
	if err != nil || first {
		t.Fatalf("repeat: first=%v err=%v", first, err)
	}
}

func TestCampaignRepo_CountersNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM campaign_counters`).
		WithArgs("camp-missing").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}))

	repo := NewCampaignRepo(db)
	if _, err := repo.Counters(context.Background(), "camp-missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEngagementRepo_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM subscriber_engagement`).
		WithArgs("sub-missing").
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id"}))

	repo := NewEngagementRepo(db)
	if _, err := repo.Get(context.Background(), "sub-missing"); !errors.Is(err, engagement.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEngagementRepo_UpdateWritesMarksInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE subscriber_engagement`).
		WithArgs("sub-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO engagement_history`).
		WithArgs("sub-1", "m1", string(domain.EventOpened)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewEngagementRepo(db)
	rec := &domain.SubscriberEngagement{
		SubscriberID: "sub-1",
		Status:       domain.SubscriberActive,
		Score:        domain.OpenScoreDelta,
	}
	mark := engagement.Mark{MessageID: "m1", Type: domain.EventOpened}
	if err := repo.Update(context.Background(), rec, mark); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEngagementRepo_UpdateRollsBackWhenMarkFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE subscriber_engagement`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO engagement_history`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	repo := NewEngagementRepo(db)
	rec := &domain.SubscriberEngagement{SubscriberID: "sub-1", Status: domain.SubscriberActive}
	mark := engagement.Mark{MessageID: "m1", Type: domain.EventOpened}
	if err := repo.Update(context.Background(), rec, mark); err == nil {
		t.Fatal("mark failure not surfaced")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEngagementRepo_SeenForMessage(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("sub-1", "m1", string(domain.EventOpened)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewEngagementRepo(db)
	seen, err := repo.SeenForMessage(context.Background(), "sub-1", "m1", domain.EventOpened)
	if err != nil || !seen {
		t.Fatalf("seen=%v err=%v", seen, err)
	}
}

func TestSuppressionRepo_Matches(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("a@example.com", "org-1", "camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewSuppressionRepo(db)
	ok, err := repo.Matches(context.Background(), "a@example.com", "org-1", "camp-1")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestDeadLetterRepo_ParkSerializesEvent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO dead_letters`).
		WithArgs(sqlmock.AnyArg(), "sparkpost", "opened", "a@example.com",
			3, "storage unavailable", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDeadLetterRepo(db)
	env := queue.Envelope{
		Event: domain.NormalizedEvent{
			Provider:        domain.ProviderSparkPost,
			ProviderEventID: "e1",
			Type:            domain.EventOpened,
			RecipientEmail:  "a@example.com",
			OccurredAt:      time.Unix(1747065600, 0).UTC(),
		},
		Attempts:   3,
		EnqueuedAt: time.Unix(1747065601, 0).UTC(),
	}
	if err := repo.Park(context.Background(), env, "storage unavailable"); err != nil {
		t.Fatalf("Park: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
