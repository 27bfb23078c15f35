package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
	"github.com/smallbiznis/kredit/internal/clock"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	subscriptionrepository "github.com/smallbiznis/kredit/internal/subscription/repository"
	usageperiodrepository "github.com/smallbiznis/kredit/internal/usageperiod/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type meterStub struct {
	mu       sync.Mutex
	reported map[string]int64
	failFor  map[string]bool
}

func newMeterStub() *meterStub {
	return &meterStub{
		reported: make(map[string]int64),
		failFor:  make(map[string]bool),
	}
}

func (m *meterStub) EnsureCustomer(ctx context.Context, ref, orgID, name, email string) (string, error) {
	return ref, nil
}

func (m *meterStub) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (m *meterStub) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *meterStub) CreateMeteredItem(ctx context.Context, subscriptionRef, priceRef string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *meterStub) ReportOverage(ctx context.Context, customerRef string, value int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[customerRef] {
		return errors.New("meter event rejected")
	}
	m.reported[customerRef] += value
	return nil
}

func (m *meterStub) DecodeWebhook(payload []byte, signature string) (*billingsyncdomain.Event, error) {
	return nil, errors.New("not implemented")
}

func (m *meterStub) ReportedFor(customerRef string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reported[customerRef]
}

type reporterFixture struct {
	reporter *Reporter
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	meter    *meterStub
}

func setupReporter(t *testing.T) *reporterFixture {
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
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			provider_subscription_ref TEXT,
			provider_customer_ref TEXT,
			provider_item_base_ref TEXT,
			provider_item_overage_ref TEXT,
			plan_code TEXT NOT NULL,
			status TEXT NOT NULL,
			monthly_allowance BIGINT NOT NULL DEFAULT 0,
			overage_unit_price_cents BIGINT NOT NULL DEFAULT 0,
			overage_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			overage_cap BIGINT,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			pause_access BOOLEAN NOT NULL DEFAULT FALSE,
			current_period_start DATETIME,
			current_period_end DATETIME,
			price_paid_cents BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
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
	fakeClock := clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	meter := newMeterStub()

	reporter := New(Params{
		DB:            db,
		Clock:         fakeClock,
		Log:           zap.NewNop(),
		Periods:       usageperiodrepository.Provide(),
		Subscriptions: subscriptionrepository.Provide(),
		Provider:      meter,
	})

	return &reporterFixture{
		reporter: reporter,
		db:       db,
		node:     node,
		clock:    fakeClock,
		meter:    meter,
	}
}

// seedPeriod creates a linked subscription and an open usage period with
// the given counters, returning the period id.
func (f *reporterFixture) seedPeriod(t *testing.T, customerRef string, used, reported int64, linked bool) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	subID := f.node.Generate()
	periodID := f.node.Generate()

	overageItem := any("si_overage")
	if !linked {
		overageItem = nil
	}
	if err := f.db.Exec(
		`INSERT INTO subscriptions (
			id, org_id, provider_subscription_ref, provider_customer_ref,
			provider_item_overage_ref, plan_code, status, monthly_allowance,
			current_period_start, current_period_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 'PRO_MONTHLY', 'ACTIVE', 1000, ?, ?, ?, ?)`,
		subID, subID, "sub_"+customerRef, customerRef, overageItem,
		now, now.AddDate(0, 1, 0), now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	if err := f.db.Exec(
		`INSERT INTO usage_periods (
			id, org_id, subscription_id, period_start, period_end,
			overage_used, overage_reported, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		periodID, subID, subID, now, now.AddDate(0, 1, 0), used, reported, now, now,
	).Error; err != nil {
		t.Fatalf("seed period: %v", err)
	}
	return periodID
}

func (f *reporterFixture) reportedCounter(t *testing.T, periodID snowflake.ID) int64 {
	t.Helper()
	var reported int64
	if err := f.db.Raw(
		`SELECT overage_reported FROM usage_periods WHERE id = ?`, periodID,
	).Scan(&reported).Error; err != nil {
		t.Fatalf("read reported counter: %v", err)
	}
	return reported
}

func TestRunOnceReportsUnreportedDelta(t *testing.T) {
	f := setupReporter(t)
	periodID := f.seedPeriod(t, "cus_1", 50, 20, true)

	if err := f.reporter.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if got := f.meter.ReportedFor("cus_1"); got != 30 {
		t.Fatalf("reported = %d, want 30", got)
	}
	if got := f.reportedCounter(t, periodID); got != 50 {
		t.Fatalf("counter = %d, want 50", got)
	}

	// A second sweep finds no delta and sends nothing.
	if err := f.reporter.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := f.meter.ReportedFor("cus_1"); got != 30 {
		t.Fatalf("second sweep re-reported: %d", got)
	}
}

func TestRunOnceFailureLeavesCounterForRetry(t *testing.T) {
	f := setupReporter(t)
	periodID := f.seedPeriod(t, "cus_1", 40, 0, true)
	f.meter.failFor["cus_1"] = true

	if err := f.reporter.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := f.reportedCounter(t, periodID); got != 0 {
		t.Fatalf("counter advanced despite provider failure: %d", got)
	}

	// Once the provider recovers, the full delta goes out.
	f.meter.failFor["cus_1"] = false
	if err := f.reporter.RunOnce(context.Background()); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if got := f.meter.ReportedFor("cus_1"); got != 40 {
		t.Fatalf("reported = %d, want 40", got)
	}
	if got := f.reportedCounter(t, periodID); got != 40 {
		t.Fatalf("counter = %d, want 40", got)
	}
}

func TestRunOnceIsolatesFailingCustomers(t *testing.T) {
	f := setupReporter(t)
	failing := f.seedPeriod(t, "cus_bad", 10, 0, true)
	healthy := f.seedPeriod(t, "cus_good", 25, 0, true)
	f.meter.failFor["cus_bad"] = true

	if err := f.reporter.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if got := f.meter.ReportedFor("cus_good"); got != 25 {
		t.Fatalf("healthy customer not reported: %d", got)
	}
	if got := f.reportedCounter(t, healthy); got != 25 {
		t.Fatalf("healthy counter = %d, want 25", got)
	}
	if got := f.reportedCounter(t, failing); got != 0 {
		t.Fatalf("failing counter must stay for retry: %d", got)
	}
}

func TestRunOnceSkipsUnlinkedSubscriptions(t *testing.T) {
	f := setupReporter(t)
	periodID := f.seedPeriod(t, "cus_1", 15, 0, false)

	if err := f.reporter.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if got := f.meter.ReportedFor("cus_1"); got != 0 {
		t.Fatalf("unlinked subscription was reported: %d", got)
	}
	if got := f.reportedCounter(t, periodID); got != 0 {
		t.Fatalf("counter = %d, want 0", got)
	}
}
