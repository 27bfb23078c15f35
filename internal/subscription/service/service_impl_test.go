package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kredit/internal/clock"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/kredit/internal/subscription/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type subscriptionFixture struct {
	service subscriptiondomain.Service
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	orgID   snowflake.ID
}

func setupSubscriptionService(t *testing.T) *subscriptionFixture {
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

	if err := db.Exec(
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
	).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	service := NewService(ServiceParam{
		DB:    db,
		Clock: fakeClock,
		Log:   zap.NewNop(),
		Repo:  subscriptionrepository.Provide(),
	})

	return &subscriptionFixture{
		service: service,
		db:      db,
		node:    node,
		clock:   fakeClock,
		orgID:   node.Generate(),
	}
}

func (f *subscriptionFixture) seedSubscription(t *testing.T, orgID snowflake.ID) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := f.clock.Now()
	if err := f.db.Exec(
		`INSERT INTO subscriptions (
			id, org_id, plan_code, status, monthly_allowance, overage_enabled, created_at, updated_at
		) VALUES (?, ?, 'PRO_MONTHLY', 'ACTIVE', 1000, TRUE, ?, ?)`,
		id, orgID, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return id
}

func TestGetEnforcesTenantOwnership(t *testing.T) {
	f := setupSubscriptionService(t)
	id := f.seedSubscription(t, f.orgID)

	sub, err := f.service.Get(context.Background(), f.orgID, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.ID != id {
		t.Fatalf("got subscription %v, want %v", sub.ID, id)
	}

	otherOrg := f.node.Generate()
	if _, err := f.service.Get(context.Background(), otherOrg, id); err != subscriptiondomain.ErrSubscriptionNotFound {
		t.Fatalf("cross-tenant read: err = %v, want %v", err, subscriptiondomain.ErrSubscriptionNotFound)
	}
	if _, err := f.service.Get(context.Background(), f.orgID, 0); err != subscriptiondomain.ErrInvalidSubscriptionID {
		t.Fatalf("zero id: err = %v, want %v", err, subscriptiondomain.ErrInvalidSubscriptionID)
	}
}

func TestListReturnsOnlyTenantSubscriptions(t *testing.T) {
	f := setupSubscriptionService(t)
	f.seedSubscription(t, f.orgID)
	f.seedSubscription(t, f.orgID)
	f.seedSubscription(t, f.node.Generate())

	subs, err := f.service.List(context.Background(), f.orgID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
}

func TestUpdateOverageSettings(t *testing.T) {
	f := setupSubscriptionService(t)
	id := f.seedSubscription(t, f.orgID)
	cap := int64(500)

	sub, err := f.service.UpdateOverageSettings(context.Background(), subscriptiondomain.UpdateOverageSettingsRequest{
		OrgID:          f.orgID,
		SubscriptionID: id,
		Enabled:        true,
		Cap:            &cap,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !sub.OverageEnabled || sub.OverageCap == nil || *sub.OverageCap != 500 {
		t.Fatalf("settings not applied: enabled=%v cap=%v", sub.OverageEnabled, sub.OverageCap)
	}

	// Disabling without a cap zeroes it so no overage can accrue.
	sub, err = f.service.UpdateOverageSettings(context.Background(), subscriptiondomain.UpdateOverageSettingsRequest{
		OrgID:          f.orgID,
		SubscriptionID: id,
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if sub.OverageEnabled || sub.OverageCap == nil || *sub.OverageCap != 0 {
		t.Fatalf("disable did not zero the cap: enabled=%v cap=%v", sub.OverageEnabled, sub.OverageCap)
	}
}

func TestUpdateOverageSettingsCrossTenant(t *testing.T) {
	f := setupSubscriptionService(t)
	id := f.seedSubscription(t, f.orgID)

	_, err := f.service.UpdateOverageSettings(context.Background(), subscriptiondomain.UpdateOverageSettingsRequest{
		OrgID:          f.node.Generate(),
		SubscriptionID: id,
		Enabled:        true,
	})
	if err != subscriptiondomain.ErrSubscriptionNotFound {
		t.Fatalf("err = %v, want %v", err, subscriptiondomain.ErrSubscriptionNotFound)
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]subscriptiondomain.SubscriptionStatus{
		"active":             subscriptiondomain.SubscriptionStatusActive,
		"trialing":           subscriptiondomain.SubscriptionStatusTrialing,
		"past_due":           subscriptiondomain.SubscriptionStatusPastDue,
		"canceled":           subscriptiondomain.SubscriptionStatusCancelled,
		"unpaid":             subscriptiondomain.SubscriptionStatusUnpaid,
		"incomplete_expired": subscriptiondomain.SubscriptionStatusIncompleteExpired,
		"paused":             subscriptiondomain.SubscriptionStatusInactive,
		"":                   subscriptiondomain.SubscriptionStatusInactive,
	}
	for raw, want := range cases {
		if got := subscriptiondomain.MapProviderStatus(raw); got != want {
			t.Errorf("MapProviderStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
