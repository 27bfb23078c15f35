package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	alertrepository "github.com/smallbiznis/kredit/internal/alert/repository"
	"github.com/smallbiznis/kredit/internal/clock"
	"github.com/smallbiznis/kredit/internal/config"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type emailStub struct {
	mu       sync.Mutex
	sent     [][]string
	subjects []string
	err      error
}

func (e *emailStub) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, to)
	e.subjects = append(e.subjects, subject)
	return nil
}

func (e *emailStub) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func setupAlertService(t *testing.T, cfg config.Config) (alertdomain.Service, *gorm.DB, *snowflake.Node, *emailStub) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	statements := []string{
		`CREATE TABLE alert_settings (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			subscription_id BIGINT NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			thresholds JSON NOT NULL,
			destinations JSON NOT NULL,
			locale TEXT NOT NULL DEFAULT 'en',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE alerts (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			subscription_id BIGINT NOT NULL,
			category TEXT NOT NULL,
			threshold_fraction DOUBLE PRECISION NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			dedup_key TEXT NOT NULL,
			triggered_at DATETIME NOT NULL,
			acknowledged_at DATETIME,
			resolved_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	node := mustNode(t)
	email := &emailStub{}
	service := NewService(ServiceParam{
		DB:     db,
		Node:   node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		Log:    zap.NewNop(),
		Config: cfg,
		Repo:   alertrepository.Provide(),
		Email:  email,
	})
	return service, db, node, email
}

func testSubscription(node *snowflake.Node) *subscriptiondomain.Subscription {
	return &subscriptiondomain.Subscription{
		ID:               node.Generate(),
		OrgID:            node.Generate(),
		PlanCode:         "PRO_MONTHLY",
		Status:           subscriptiondomain.SubscriptionStatusActive,
		MonthlyAllowance: 100,
	}
}

func enableAlerts(t *testing.T, service alertdomain.Service, sub *subscriptiondomain.Subscription, thresholds []float64) {
	t.Helper()
	_, err := service.UpsertSettings(context.Background(), alertdomain.UpsertSettingsRequest{
		OrgID:          sub.OrgID,
		SubscriptionID: sub.ID,
		Enabled:        true,
		Thresholds:     thresholds,
		Destinations:   []string{"billing@example.com"},
	})
	if err != nil {
		t.Fatalf("upsert settings: %v", err)
	}
}

func TestEvaluateFiresEveryCrossedThreshold(t *testing.T) {
	service, db, node, _ := setupAlertService(t, config.Config{AlertDedupScope: config.DedupScopeSubscription})
	sub := testSubscription(node)
	enableAlerts(t, service, sub, []float64{0.5, 0.75, 0.9})
	periodID := node.Generate()

	fired, err := service.Evaluate(context.Background(), db, sub, periodID, 0.8)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(fired) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(fired))
	}
	if fired[0].ThresholdFraction != 0.5 || fired[1].ThresholdFraction != 0.75 {
		t.Fatalf("unexpected thresholds: %v, %v", fired[0].ThresholdFraction, fired[1].ThresholdFraction)
	}
	if fired[0].Message != "Usage at 50% threshold reached" {
		t.Fatalf("unexpected message: %q", fired[0].Message)
	}
	if fired[0].Severity != alertdomain.SeverityWarning || fired[0].Category != alertdomain.CategoryThreshold {
		t.Fatalf("unexpected alert classification: %+v", fired[0])
	}
}

func TestEvaluateFiresEachThresholdOnce(t *testing.T) {
	service, db, node, _ := setupAlertService(t, config.Config{AlertDedupScope: config.DedupScopeSubscription})
	sub := testSubscription(node)
	enableAlerts(t, service, sub, []float64{0.5, 0.9})
	periodID := node.Generate()

	if fired, err := service.Evaluate(context.Background(), db, sub, periodID, 0.6); err != nil || len(fired) != 1 {
		t.Fatalf("first evaluate: fired=%d err=%v", len(fired), err)
	}
	if fired, err := service.Evaluate(context.Background(), db, sub, periodID, 0.6); err != nil || len(fired) != 0 {
		t.Fatalf("second evaluate should be deduplicated: fired=%d err=%v", len(fired), err)
	}
	// Crossing the next boundary fires only the new threshold.
	fired, err := service.Evaluate(context.Background(), db, sub, periodID, 0.95)
	if err != nil {
		t.Fatalf("third evaluate: %v", err)
	}
	if len(fired) != 1 || fired[0].ThresholdFraction != 0.9 {
		t.Fatalf("expected only the 0.9 threshold, got %+v", fired)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM alerts`).Scan(&count).Error; err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 alert rows, got %d", count)
	}
}

func TestEvaluatePeriodScopeResetsEachCycle(t *testing.T) {
	service, db, node, _ := setupAlertService(t, config.Config{AlertDedupScope: config.DedupScopePeriod})
	sub := testSubscription(node)
	enableAlerts(t, service, sub, []float64{0.5})

	firstPeriod := node.Generate()
	if fired, err := service.Evaluate(context.Background(), db, sub, firstPeriod, 0.7); err != nil || len(fired) != 1 {
		t.Fatalf("first period: fired=%d err=%v", len(fired), err)
	}
	if fired, err := service.Evaluate(context.Background(), db, sub, firstPeriod, 0.7); err != nil || len(fired) != 0 {
		t.Fatalf("same period should deduplicate: fired=%d err=%v", len(fired), err)
	}

	secondPeriod := node.Generate()
	fired, err := service.Evaluate(context.Background(), db, sub, secondPeriod, 0.7)
	if err != nil {
		t.Fatalf("second period: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("expected threshold to re-fire in new period, got %d", len(fired))
	}
}

func TestEvaluateSubscriptionScopeNeverRefires(t *testing.T) {
	service, db, node, _ := setupAlertService(t, config.Config{AlertDedupScope: config.DedupScopeSubscription})
	sub := testSubscription(node)
	enableAlerts(t, service, sub, []float64{0.5})

	if fired, err := service.Evaluate(context.Background(), db, sub, node.Generate(), 0.7); err != nil || len(fired) != 1 {
		t.Fatalf("first period: fired=%d err=%v", len(fired), err)
	}
	if fired, err := service.Evaluate(context.Background(), db, sub, node.Generate(), 0.7); err != nil || len(fired) != 0 {
		t.Fatalf("new period must not re-fire in subscription scope: fired=%d err=%v", len(fired), err)
	}
}

func TestEvaluateDisabledOrMissingSettings(t *testing.T) {
	service, db, node, _ := setupAlertService(t, config.Config{})
	sub := testSubscription(node)

	// No settings row at all.
	if fired, err := service.Evaluate(context.Background(), db, sub, node.Generate(), 0.9); err != nil || fired != nil {
		t.Fatalf("missing settings: fired=%v err=%v", fired, err)
	}

	if _, err := service.GetSettings(context.Background(), sub.OrgID, sub.ID); err != nil {
		t.Fatalf("get settings: %v", err)
	}
	// Disabled defaults exist now; still nothing fires.
	if fired, err := service.Evaluate(context.Background(), db, sub, node.Generate(), 0.9); err != nil || fired != nil {
		t.Fatalf("disabled settings: fired=%v err=%v", fired, err)
	}
}

func TestDispatchSendsToConfiguredDestinations(t *testing.T) {
	service, db, node, email := setupAlertService(t, config.Config{})
	sub := testSubscription(node)
	enableAlerts(t, service, sub, []float64{0.5})

	fired, err := service.Evaluate(context.Background(), db, sub, node.Generate(), 0.6)
	if err != nil || len(fired) != 1 {
		t.Fatalf("evaluate: fired=%d err=%v", len(fired), err)
	}

	service.Dispatch(context.Background(), fired)
	if email.Sent() != 1 {
		t.Fatalf("expected 1 notification, got %d", email.Sent())
	}
	if got := email.sent[0][0]; got != "billing@example.com" {
		t.Fatalf("unexpected destination: %s", got)
	}
}

func TestDispatchFailureIsSwallowed(t *testing.T) {
	service, db, node, email := setupAlertService(t, config.Config{})
	sub := testSubscription(node)
	enableAlerts(t, service, sub, []float64{0.5})
	email.err = errors.New("smtp unreachable")

	fired, err := service.Evaluate(context.Background(), db, sub, node.Generate(), 0.6)
	if err != nil || len(fired) != 1 {
		t.Fatalf("evaluate: fired=%d err=%v", len(fired), err)
	}

	// Must not panic or surface the send failure.
	service.Dispatch(context.Background(), fired)
	if email.Sent() != 0 {
		t.Fatalf("expected no successful sends, got %d", email.Sent())
	}
}

func TestUpsertSettingsValidation(t *testing.T) {
	service, _, node, _ := setupAlertService(t, config.Config{})
	sub := testSubscription(node)

	_, err := service.UpsertSettings(context.Background(), alertdomain.UpsertSettingsRequest{
		OrgID:          sub.OrgID,
		SubscriptionID: sub.ID,
		Enabled:        true,
	})
	if !errors.Is(err, alertdomain.ErrSettingsIncomplete) {
		t.Fatalf("expected ErrSettingsIncomplete, got %v", err)
	}

	// Disabling without thresholds is allowed.
	settings, err := service.UpsertSettings(context.Background(), alertdomain.UpsertSettingsRequest{
		OrgID:          sub.OrgID,
		SubscriptionID: sub.ID,
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("disable settings: %v", err)
	}
	if settings.Enabled {
		t.Fatalf("settings should be disabled")
	}
}

func TestGetSettingsCreatesDisabledDefaults(t *testing.T) {
	service, _, node, _ := setupAlertService(t, config.Config{})
	sub := testSubscription(node)

	first, err := service.GetSettings(context.Background(), sub.OrgID, sub.ID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if first.Enabled {
		t.Fatalf("defaults must be disabled")
	}

	second, err := service.GetSettings(context.Background(), sub.OrgID, sub.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same settings row, got %s vs %s", first.ID, second.ID)
	}
}
