// Package domain contains persistence models for credit grants and top-ups.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// GrantType classifies where a grant's credits came from.
type GrantType string

const (
	GrantTypeSubscription GrantType = "SUBSCRIPTION"
	GrantTypeTopUp        GrantType = "TOPUP"
	GrantTypeTrial        GrantType = "TRIAL"
	GrantTypePromotional  GrantType = "PROMOTIONAL"
)

// CreditGrant is an allotment of credits with a decaying remaining
// balance. Spent or expired grants are kept as audit trail, never deleted.
// Invariant: 0 <= remaining_amount <= amount.
type CreditGrant struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	OrgID           snowflake.ID  `gorm:"not null;index"`
	SubscriptionID  *snowflake.ID `gorm:"index"`
	TopUpID         *snowflake.ID `gorm:"column:topup_id;index"`
	GrantType       GrantType     `gorm:"type:text;not null"`
	Amount          int64         `gorm:"not null"`
	RemainingAmount int64         `gorm:"not null"`
	ExpiresAt       *time.Time    `gorm:"index"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditGrant) TableName() string { return "credit_grants" }

// TopUp records one purchased or granted credit package. Each row pairs
// with exactly one CreditGrant of type TOPUP or TRIAL.
type TopUp struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	OrgID              snowflake.ID `gorm:"not null;index"`
	PackageCode        string       `gorm:"type:text;not null"`
	Credits            int64        `gorm:"not null"`
	PriceCents         int64        `gorm:"not null"`
	Currency           string       `gorm:"type:text;not null"`
	ProviderPaymentRef *string      `gorm:"type:text;uniqueIndex"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TopUp) TableName() string { return "topups" }
