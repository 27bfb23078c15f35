package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kredit/internal/clock"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
	organizationrepository "github.com/smallbiznis/kredit/internal/organization/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type trialIssuerStub struct {
	mu     sync.Mutex
	issued []snowflake.ID
	err    error
}

func (s *trialIssuerStub) IssueTrial(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.issued = append(s.issued, orgID)
	return nil
}

func (s *trialIssuerStub) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issued)
}

var organizationTestEpoch = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func setupOrganizationService(t *testing.T) (organizationdomain.Service, *gorm.DB, *trialIssuerStub) {
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
		`CREATE TABLE organizations (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			plan_tier TEXT NOT NULL DEFAULT 'FREE',
			billing_customer_id TEXT UNIQUE,
			billing_email TEXT,
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
	trials := &trialIssuerStub{}

	service := NewService(ServiceParam{
		DB:     db,
		Node:   node,
		Clock:  clock.NewFakeClock(organizationTestEpoch),
		Log:    zap.NewNop(),
		Repo:   organizationrepository.Provide(),
		Grants: trials,
	})
	return service, db, trials
}

func TestCreateIssuesTrialCredits(t *testing.T) {
	service, db, trials := setupOrganizationService(t)

	org, err := service.Create(context.Background(), organizationdomain.CreateRequest{
		Name:         "  Acme  ",
		BillingEmail: "billing@acme.example",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if org.Name != "Acme" {
		t.Fatalf("name = %q, want trimmed", org.Name)
	}
	if org.PlanTier != organizationdomain.PlanTierFree {
		t.Fatalf("plan tier = %s, want FREE", org.PlanTier)
	}
	if trials.Issued() != 1 {
		t.Fatalf("trial issues = %d, want 1", trials.Issued())
	}
	if !org.CreatedAt.Equal(organizationTestEpoch) || !org.UpdatedAt.Equal(organizationTestEpoch) {
		t.Fatalf("timestamps not taken from the injected clock: %+v", org)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM organizations WHERE id = ?`, org.ID).Scan(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("organization row missing")
	}
}

func TestCreateRejectsBlankName(t *testing.T) {
	service, _, trials := setupOrganizationService(t)

	if _, err := service.Create(context.Background(), organizationdomain.CreateRequest{Name: "   "}); err != organizationdomain.ErrInvalidOrganizationName {
		t.Fatalf("err = %v, want %v", err, organizationdomain.ErrInvalidOrganizationName)
	}
	if trials.Issued() != 0 {
		t.Fatalf("blank name must not issue credits")
	}
}

func TestCreateRollsBackWhenTrialFails(t *testing.T) {
	service, db, trials := setupOrganizationService(t)
	trials.err = fmt.Errorf("grant store unavailable")

	if _, err := service.Create(context.Background(), organizationdomain.CreateRequest{Name: "Acme"}); err == nil {
		t.Fatalf("expected create to fail")
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM organizations`).Scan(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed signup must not leave a tenant row")
	}
}

func TestGetUnknownOrganization(t *testing.T) {
	service, _, _ := setupOrganizationService(t)

	if _, err := service.Get(context.Background(), snowflake.ID(42)); err != organizationdomain.ErrOrganizationNotFound {
		t.Fatalf("err = %v, want %v", err, organizationdomain.ErrOrganizationNotFound)
	}
	if _, err := service.Get(context.Background(), 0); err != organizationdomain.ErrInvalidOrganizationID {
		t.Fatalf("err = %v, want %v", err, organizationdomain.ErrInvalidOrganizationID)
	}
}

func TestSetBillingCustomer(t *testing.T) {
	service, db, _ := setupOrganizationService(t)
	org, err := service.Create(context.Background(), organizationdomain.CreateRequest{Name: "Acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := service.SetBillingCustomer(context.Background(), org.ID, "cus_1"); err != nil {
		t.Fatalf("set billing customer: %v", err)
	}
	var ref string
	if err := db.Raw(`SELECT billing_customer_id FROM organizations WHERE id = ?`, org.ID).Scan(&ref).Error; err != nil {
		t.Fatalf("read customer ref: %v", err)
	}
	if ref != "cus_1" {
		t.Fatalf("customer ref = %q, want cus_1", ref)
	}
}
