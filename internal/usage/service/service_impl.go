package service

import (
	"context"

	usagedomain "github.com/smallbiznis/kredit/internal/usage/domain"
	"github.com/smallbiznis/kredit/pkg/db/option"
	"github.com/smallbiznis/kredit/pkg/db/pagination"
	"github.com/smallbiznis/kredit/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	log   *zap.Logger
	store repository.Repository[usagedomain.UsageRecord]
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		log:   p.Log.Named("usage.service"),
		store: repository.ProvideStore[usagedomain.UsageRecord](p.DB),
	}
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	if req.OrgID == 0 {
		return usagedomain.ListResponse{}, usagedomain.ErrInvalidListRequest
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	records, err := s.store.Find(ctx, &usagedomain.UsageRecord{OrgID: req.OrgID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  pageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
	)
	if err != nil {
		return usagedomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(records, int32(pageSize), func(record *usagedomain.UsageRecord) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: record.ID.String()})
		return token
	})
	if len(records) > pageSize {
		records = records[:pageSize]
	}
	return usagedomain.ListResponse{
		Records:       records,
		NextPageToken: pageInfo.NextPageToken,
		HasMore:       pageInfo.HasMore,
	}, nil
}
