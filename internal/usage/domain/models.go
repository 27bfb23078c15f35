// Package domain contains the usage ledger: one immutable record per
// grant debit.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrInvalidListRequest = errors.New("invalid_usage_list_request")

// UsageRecord is one debit against one grant. Records are append-only;
// conservation holds when the sum of records equals the sum of grant
// amount minus remaining across the organization.
type UsageRecord struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	OrgID           snowflake.ID  `gorm:"not null;index"`
	SubscriptionID  *snowflake.ID `gorm:"index"`
	TopUpID         *snowflake.ID `gorm:"column:topup_id;index"`
	GrantID         snowflake.ID  `gorm:"not null;index"`
	GrantType       string        `gorm:"type:text;not null"`
	CreditsConsumed int64         `gorm:"not null"`
	UserID          *snowflake.ID `gorm:"index"`
	APIKeyID        *snowflake.ID `gorm:"index"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// Repository appends and aggregates ledger rows.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	SumConsumedByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error)
}

// ListRequest filters the read-only consumption history.
type ListRequest struct {
	OrgID     snowflake.ID
	PageToken string
	PageSize  int
}

// ListResponse is a cursor page of usage records.
type ListResponse struct {
	Records       []*UsageRecord `json:"records"`
	NextPageToken string         `json:"next_page_token"`
	HasMore       bool           `json:"has_more"`
}

// Service serves the read-only consumption history.
type Service interface {
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}
