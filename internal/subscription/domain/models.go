// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive             SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing           SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue            SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCancelled          SubscriptionStatus = "CANCELLED"
	SubscriptionStatusUnpaid             SubscriptionStatus = "UNPAID"
	SubscriptionStatusIncompleteExpired  SubscriptionStatus = "INCOMPLETE_EXPIRED"
	SubscriptionStatusInactive           SubscriptionStatus = "INACTIVE"
)

// Terminal reports whether the status ends the tenant's paid entitlement.
func (s SubscriptionStatus) Terminal() bool {
	switch s {
	case SubscriptionStatusCancelled, SubscriptionStatusUnpaid, SubscriptionStatusIncompleteExpired:
		return true
	}
	return false
}

// Entitled reports whether the tenant keeps plan benefits in this status.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// MapProviderStatus translates the billing provider's status strings into
// local ones. Unknown values map to INACTIVE.
func MapProviderStatus(raw string) SubscriptionStatus {
	switch raw {
	case "active":
		return SubscriptionStatusActive
	case "trialing":
		return SubscriptionStatusTrialing
	case "past_due":
		return SubscriptionStatusPastDue
	case "canceled", "cancelled":
		return SubscriptionStatusCancelled
	case "unpaid":
		return SubscriptionStatusUnpaid
	case "incomplete_expired":
		return SubscriptionStatusIncompleteExpired
	default:
		return SubscriptionStatusInactive
	}
}

// Subscription mirrors one recurring billing agreement at the provider.
// Mutated exclusively by the billing synchronizer; the consumption engine
// only reads it. Cancellation is a status change, never a delete.
type Subscription struct {
	ID                      snowflake.ID       `gorm:"primaryKey"`
	OrgID                   snowflake.ID       `gorm:"not null;index"`
	ProviderSubscriptionRef *string            `gorm:"type:text;uniqueIndex"`
	ProviderCustomerRef     *string            `gorm:"type:text;index"`
	ProviderItemBaseRef     *string            `gorm:"type:text"`
	ProviderItemOverageRef  *string            `gorm:"type:text"`
	PlanCode                string             `gorm:"type:text;not null"`
	Status                  SubscriptionStatus `gorm:"type:text;not null"`
	MonthlyAllowance        int64              `gorm:"not null;default:0"`
	OverageUnitPriceCents   int64              `gorm:"not null;default:0"`
	OverageEnabled          bool               `gorm:"not null;default:false"`
	OverageCap              *int64
	CancelAtPeriodEnd       bool `gorm:"not null;default:false"`
	PauseAccess             bool `gorm:"not null;default:false"`
	CurrentPeriodStart      *time.Time
	CurrentPeriodEnd        *time.Time
	PricePaidCents          int64     `gorm:"not null;default:0"`
	CreatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// EffectiveOverageCap resolves the spend ceiling for overage admission:
// zero when overage is disabled, nil (unlimited) when no cap is set.
func (s *Subscription) EffectiveOverageCap() *int64 {
	if !s.OverageEnabled {
		zero := int64(0)
		return &zero
	}
	return s.OverageCap
}
