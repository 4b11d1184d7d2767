package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
)

// mockRepo is an in-memory repository for testing. failUpdates makes
// the next n Update calls fail without persisting anything, matching
// the all-or-nothing contract.
type mockRepo struct {
	mu          sync.Mutex
	records     map[string]*domain.SubscriberEngagement
	seen        map[string]bool // "subscriberID:messageID:eventType"
	failGet     error
	failUpdates int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		records: make(map[string]*domain.SubscriberEngagement),
		seen:    make(map[string]bool),
	}
}

func (m *mockRepo) Get(_ context.Context, subscriberID string) (*domain.SubscriberEngagement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	rec, ok := m.records[subscriberID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, rec *domain.SubscriberEngagement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.SubscriberID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, rec *domain.SubscriberEngagement, marks ...Mark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates > 0 {
		m.failUpdates--
		return errors.New("write failed")
	}
	cp := *rec
	m.records[rec.SubscriberID] = &cp
	for _, mk := range marks {
		m.seen[rec.SubscriberID+":"+mk.MessageID+":"+string(mk.Type)] = true
	}
	return nil
}

func (m *mockRepo) SeenForMessage(_ context.Context, subscriberID, messageID string, t domain.EventType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[subscriberID+":"+messageID+":"+string(t)], nil
}

func openEvent(subscriber, message string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Provider:        domain.ProviderSparkPost,
		ProviderEventID: "e-" + subscriber + "-" + message,
		Type:            domain.EventOpened,
		RecipientEmail:  "a@example.com",
		OccurredAt:      time.Date(2026, 5, 12, 16, 0, 0, 0, time.UTC),
		Correlation: domain.Correlation{
			OrganizationID: "org-1",
			SubscriberID:   subscriber,
			CampaignID:     "camp-1",
			MessageID:      message,
		},
	}
}

func typed(evt domain.NormalizedEvent, t domain.EventType) domain.NormalizedEvent {
	evt.Type = t
	return evt
}

func TestApply_LazyCreationOnFirstEvent(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	out, err := svc.Apply(ctx, openEvent("sub-1", "m1"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.FirstOpenForMessage {
		t.Error("first open not flagged")
	}

	rec, err := svc.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.SubscriberActive || rec.Score != domain.OpenScoreDelta {
		t.Errorf("status=%s score=%d", rec.Status, rec.Score)
	}
	if rec.EmailsOpened != 1 || rec.LastOpenedAt == nil {
		t.Errorf("open counters not updated: %+v", rec)
	}
}

func TestApply_RepeatedOpensScoreOnce(t *testing.T) {
	// Three opens of the same message: counters move three times, score
	// moves once. Pixel prefetchers re-open constantly.
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Apply(ctx, openEvent("sub-1", "m1")); err != nil {
			t.Fatalf("Apply #%d: %v", i, err)
		}
	}

	rec, _ := svc.Get(ctx, "sub-1")
	if rec.Score != domain.OpenScoreDelta {
		t.Errorf("score = %d, want %d", rec.Score, domain.OpenScoreDelta)
	}
	if rec.EmailsOpened != 3 {
		t.Errorf("emailsOpened = %d, want 3", rec.EmailsOpened)
	}
}

func TestApply_RetryAfterFailedWriteKeepsDelta(t *testing.T) {
	// A failed write must not consume the first-seen marker: the
	// retried event still scores, and a later repeat still does not.
	repo := newMockRepo()
	repo.failUpdates = 1
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, openEvent("sub-1", "m1")); err == nil {
		t.Fatal("expected write failure on first attempt")
	}

	out, err := svc.Apply(ctx, openEvent("sub-1", "m1"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !out.FirstOpenForMessage {
		t.Error("retry did not count as first open")
	}

	rec, _ := svc.Get(ctx, "sub-1")
	if rec.Score != domain.OpenScoreDelta {
		t.Errorf("score = %d, want %d", rec.Score, domain.OpenScoreDelta)
	}

	// The marker landed with the successful write, so another open of
	// the same message is score-neutral.
	if _, err := svc.Apply(ctx, openEvent("sub-1", "m1")); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	rec, _ = svc.Get(ctx, "sub-1")
	if rec.Score != domain.OpenScoreDelta {
		t.Errorf("score after repeat = %d, want %d", rec.Score, domain.OpenScoreDelta)
	}
}

func TestApply_OpenContributionCap(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	// Opens across enough distinct messages to blow past the cap.
	n := domain.OpenScoreCap/domain.OpenScoreDelta + 5
	for i := 0; i < n; i++ {
		svc.Apply(ctx, openEvent("sub-1", "m"+suffix(i)))
	}

	rec, _ := svc.Get(ctx, "sub-1")
	if rec.Score != domain.OpenScoreCap {
		t.Errorf("score = %d, want capped at %d", rec.Score, domain.OpenScoreCap)
	}
	if rec.OpenScore != domain.OpenScoreCap {
		t.Errorf("openScore = %d, want %d", rec.OpenScore, domain.OpenScoreCap)
	}
}

func TestApply_ScoreClampedAtMax(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	// Max out opens and clicks; total raw contribution is 150.
	for i := 0; i < 10; i++ {
		svc.Apply(ctx, openEvent("sub-1", "m"+suffix(i)))
		svc.Apply(ctx, typed(openEvent("sub-1", "m"+suffix(i)), domain.EventClicked))
	}

	rec, _ := svc.Get(ctx, "sub-1")
	if rec.Score != domain.ScoreMax {
		t.Errorf("score = %d, want %d", rec.Score, domain.ScoreMax)
	}
}

func TestApply_UnsubscribeFloorsAtZero(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	svc.Apply(ctx, openEvent("sub-1", "m1")) // score 5
	out, err := svc.Apply(ctx, typed(openEvent("sub-1", "m2"), domain.EventUnsubscribed))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.StatusChanged || out.Status != domain.SubscriberUnsubscribed {
		t.Errorf("outcome = %+v", out)
	}
	if out.Score != 0 {
		t.Errorf("score = %d, want floored at 0", out.Score)
	}
}

func TestApply_SpamReportZeroesAndSticks(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.Apply(ctx, openEvent("sub-1", "m"+suffix(i)))
	}
	out, _ := svc.Apply(ctx, typed(openEvent("sub-1", "m9"), domain.EventSpamReport))
	if out.Score != 0 || out.Status != domain.SubscriberComplained {
		t.Fatalf("outcome = %+v", out)
	}

	// Later opens update counters but never resurrect the status.
	out, _ = svc.Apply(ctx, openEvent("sub-1", "m10"))
	if out.Status != domain.SubscriberComplained {
		t.Errorf("status reverted to %s", out.Status)
	}
	rec, _ := svc.Get(ctx, "sub-1")
	if rec.EmailsOpened != 5 {
		t.Errorf("emailsOpened = %d, counters must keep moving", rec.EmailsOpened)
	}
}

func TestApply_HardAndSoftBounce(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	soft := typed(openEvent("sub-1", "m1"), domain.EventBounced)
	soft.Metadata.BounceClass = domain.BounceSoft
	out, err := svc.Apply(ctx, soft)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.StatusChanged || out.Status != domain.SubscriberActive {
		t.Errorf("soft bounce must not change status: %+v", out)
	}

	hard := typed(openEvent("sub-1", "m2"), domain.EventBounced)
	hard.Metadata.BounceClass = domain.BounceHard
	out, _ = svc.Apply(ctx, hard)
	if !out.StatusChanged || out.Status != domain.SubscriberBounced {
		t.Errorf("hard bounce outcome = %+v", out)
	}

	rec, _ := svc.Get(ctx, "sub-1")
	if rec.BounceCount != 2 {
		t.Errorf("bounceCount = %d, want both classes counted", rec.BounceCount)
	}
}

func TestApply_OpenAfterBounceKeepsBouncedStatus(t *testing.T) {
	// Out-of-order delivery: an open arriving after a hard bounce must
	// not resurrect the subscriber.
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	hard := typed(openEvent("sub-1", "m1"), domain.EventBounced)
	hard.Metadata.BounceClass = domain.BounceHard
	svc.Apply(ctx, hard)

	out, _ := svc.Apply(ctx, openEvent("sub-1", "m1"))
	if out.Status != domain.SubscriberBounced {
		t.Errorf("status = %s, want bounced preserved", out.Status)
	}
}

func TestApply_ComplaintOutranksUnsubscribe(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	svc.Apply(ctx, typed(openEvent("sub-1", "m1"), domain.EventUnsubscribed))
	out, _ := svc.Apply(ctx, typed(openEvent("sub-1", "m2"), domain.EventSpamReport))
	if out.Status != domain.SubscriberComplained {
		t.Errorf("status = %s, want complained", out.Status)
	}

	// But an unsubscribe never downgrades a complaint.
	out, _ = svc.Apply(ctx, typed(openEvent("sub-1", "m3"), domain.EventUnsubscribed))
	if out.Status != domain.SubscriberComplained {
		t.Errorf("status = %s, complaint must stick", out.Status)
	}
}

func TestApply_MissingSubscriberID(t *testing.T) {
	svc := NewService(newMockRepo())
	evt := openEvent("", "m1")
	evt.Correlation.SubscriberID = ""

	if _, err := svc.Apply(context.Background(), evt); !errors.Is(err, ErrMissingSubscriber) {
		t.Fatalf("err = %v, want ErrMissingSubscriber", err)
	}
}

func suffix(i int) string {
	return string(rune('a' + i%26))
}
