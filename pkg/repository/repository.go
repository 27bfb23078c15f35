package repository

import (
	"context"

	"github.com/smallbiznis/kredit/pkg/db/option"
)

// Repository is a generic gorm-backed query store for the read-heavy list
// surfaces. Every write path in this module goes through a hand-written
// repository with explicit SQL, so the generic store stays read-only.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Count(ctx context.Context, query *T) (int64, error)
}
