// Package domain contains persistence models for organizations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanTier is the coarse entitlement level of a tenant. It is derived
// state: only the billing synchronizer writes it.
type PlanTier string

const (
	PlanTierFree       PlanTier = "FREE"
	PlanTierSubscribed PlanTier = "SUBSCRIBED"
	PlanTierEnterprise PlanTier = "ENTERPRISE"
)

// Organization is the tenant boundary. Every billing row hangs off one.
type Organization struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Name              string       `gorm:"type:text;not null"`
	PlanTier          PlanTier     `gorm:"type:text;not null;default:FREE"`
	BillingCustomerID *string      `gorm:"type:text;uniqueIndex"`
	BillingEmail      *string      `gorm:"type:text"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }
