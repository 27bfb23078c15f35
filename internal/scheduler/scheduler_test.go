package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
	"github.com/smallbiznis/kredit/internal/clock"
	grantrepository "github.com/smallbiznis/kredit/internal/grant/repository"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	"github.com/smallbiznis/kredit/internal/reporter"
	subscriptionrepository "github.com/smallbiznis/kredit/internal/subscription/repository"
	usageperiodrepository "github.com/smallbiznis/kredit/internal/usageperiod/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// noopProvider satisfies the billing surface for sweeps that never reach
// the provider.
type noopProvider struct{}

func (noopProvider) EnsureCustomer(ctx context.Context, ref, orgID, name, email string) (string, error) {
	return ref, nil
}

func (noopProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (noopProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	return "", errors.New("not implemented")
}

func (noopProvider) CreateMeteredItem(ctx context.Context, subscriptionRef, priceRef string) (string, error) {
	return "", errors.New("not implemented")
}

func (noopProvider) ReportOverage(ctx context.Context, customerRef string, value int64, at time.Time) error {
	return nil
}

func (noopProvider) DecodeWebhook(payload []byte, signature string) (*billingsyncdomain.Event, error) {
	return nil, errors.New("not implemented")
}

type schedulerFixture struct {
	scheduler *Scheduler
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
}

func setupScheduler(t *testing.T, cfg Config) *schedulerFixture {
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
		`CREATE TABLE usage_periods (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			subscription_id BIGINT NOT NULL,
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			overage_used BIGINT NOT NULL DEFAULT 0,
			overage_reported BIGINT NOT NULL DEFAULT 0,
			closed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE credit_grants (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			subscription_id BIGINT,
			topup_id BIGINT,
			grant_type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			remaining_amount BIGINT NOT NULL,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	rep := reporter.New(reporter.Params{
		DB:            db,
		Clock:         fakeClock,
		Log:           zap.NewNop(),
		Periods:       usageperiodrepository.Provide(),
		Subscriptions: subscriptionrepository.Provide(),
		Provider:      &noopProvider{},
	})

	sched, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fakeClock,
		Reporter: rep,
		Grants:   grantrepository.Provide(),
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return &schedulerFixture{
		scheduler: sched,
		db:        db,
		node:      node,
		clock:     fakeClock,
	}
}

func (f *schedulerFixture) seedExpiringGrant(t *testing.T, remaining int64, expiresAt time.Time) {
	t.Helper()
	now := f.clock.Now()
	if err := f.db.Exec(
		`INSERT INTO credit_grants (
			id, org_id, grant_type, amount, remaining_amount, expires_at, created_at, updated_at
		) VALUES (?, ?, 'TOPUP', ?, ?, ?, ?, ?)`,
		f.node.Generate(), f.node.Generate(), remaining, remaining, expiresAt, now, now,
	).Error; err != nil {
		t.Fatalf("seed grant: %v", err)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(Params{}); err != ErrInvalidConfig {
		t.Fatalf("err = %v, want %v", err, ErrInvalidConfig)
	}
}

func TestNewAppliesDefaultIntervals(t *testing.T) {
	f := setupScheduler(t, Config{})
	defaults := DefaultConfig()
	if f.scheduler.cfg != defaults {
		t.Fatalf("cfg = %+v, want defaults %+v", f.scheduler.cfg, defaults)
	}
}

func TestRunOnceSweepsOnlyAfterInterval(t *testing.T) {
	f := setupScheduler(t, Config{SweepInterval: time.Hour})
	start := f.clock.Now()
	f.scheduler.lastSweep = start
	f.seedExpiringGrant(t, 40, start.Add(30*time.Minute))

	// Half an hour in: the grant has expired but the sweep is not due yet.
	f.clock.Advance(31 * time.Minute)
	if err := f.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.scheduler.lastSweep; !got.Equal(start) {
		t.Fatalf("sweep ran before its interval elapsed")
	}

	// Past the interval the sweep runs and the watermark advances.
	f.clock.Advance(30 * time.Minute)
	if err := f.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.scheduler.lastSweep; !got.Equal(f.clock.Now()) {
		t.Fatalf("sweep watermark = %v, want %v", got, f.clock.Now())
	}
}

func TestSweepWindowDoesNotDoubleCount(t *testing.T) {
	f := setupScheduler(t, Config{SweepInterval: time.Hour})
	start := f.clock.Now()
	f.scheduler.lastSweep = start
	f.seedExpiringGrant(t, 40, start.Add(30*time.Minute))

	f.clock.Advance(time.Hour)
	if err := f.scheduler.sweepExpiredGrants(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	first := f.scheduler.lastSweep

	// The next window starts where the last one ended, so the same grant
	// is never totalled twice.
	f.clock.Advance(time.Hour)
	if err := f.scheduler.sweepExpiredGrants(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if f.scheduler.lastSweep.Equal(first) {
		t.Fatalf("sweep watermark did not advance")
	}
}
