package stalls

import (
	"context"
	"fmt"

	"stallbook/internal/shared/constants"
	"stallbook/pkg/cache"
	"stallbook/pkg/logger"

	"github.com/google/uuid"
)

// Sweeper reclaims lapsed holds before stall state is read.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Service interface {
	ListStalls(ctx context.Context, query StallListQuery) (*StallListResponse, error)
	GetStall(ctx context.Context, id uuid.UUID) (*Stall, error)
	CreateStall(ctx context.Context, stall *Stall) error

	// Invalidate drops every cached stall projection
	Invalidate(ctx context.Context) error
	SetCacheService(cacheService cache.Service)
}

type service struct {
	repo         Repository
	sweeper      Sweeper
	cacheService cache.Service
}

func NewService(repo Repository, sweeper Sweeper) Service {
	return &service{
		repo:    repo,
		sweeper: sweeper,
	}
}

// SetCacheService injects the cache service (used to avoid circular dependencies)
func (s *service) SetCacheService(cacheService cache.Service) {
	s.cacheService = cacheService
}

func (s *service) ListStalls(ctx context.Context, query StallListQuery) (*StallListResponse, error) {
	query.Normalize()
	if query.Status != "" && !Status(query.Status).IsValid() {
		return nil, fmt.Errorf("invalid stall status filter: %s", query.Status)
	}

	s.sweep(ctx)

	fetch := func() (interface{}, error) {
		stalls, total, err := s.repo.ListStalls(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to list stalls: %w", err)
		}
		return &StallListResponse{
			Stalls:     stalls,
			TotalCount: total,
			Page:       query.Page,
			Limit:      query.Limit,
			TotalPages: CalculateTotalPages(total, query.Limit),
		}, nil
	}

	if s.cacheService == nil {
		data, err := fetch()
		if err != nil {
			return nil, err
		}
		return data.(*StallListResponse), nil
	}

	var result StallListResponse
	cacheKey := constants.BuildStallListKey(query.Zone, query.Status, query.Page, query.Limit)
	if err := s.cacheService.GetOrSet(ctx, cacheKey, constants.TTL_REALTIME_SHORT, fetch, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *service) GetStall(ctx context.Context, id uuid.UUID) (*Stall, error) {
	s.sweep(ctx)

	if s.cacheService == nil {
		return s.repo.GetStallByID(ctx, id)
	}

	var stall Stall
	cacheKey := constants.BuildStallDetailKey(id.String())
	err := s.cacheService.GetOrSet(ctx, cacheKey, constants.TTL_REALTIME_MEDIUM, func() (interface{}, error) {
		return s.repo.GetStallByID(ctx, id)
	}, &stall)
	if err != nil {
		return nil, err
	}
	return &stall, nil
}

func (s *service) CreateStall(ctx context.Context, stall *Stall) error {
	if err := s.repo.CreateStall(ctx, stall); err != nil {
		return fmt.Errorf("failed to create stall: %w", err)
	}
	return s.Invalidate(ctx)
}

func (s *service) Invalidate(ctx context.Context) error {
	if s.cacheService == nil {
		return nil
	}
	return s.cacheService.DeletePattern(ctx, constants.CACHE_PATTERN_STALLS)
}

// sweep is best effort, a failure never blocks a read
func (s *service) sweep(ctx context.Context) {
	if s.sweeper == nil {
		return
	}
	count, err := s.sweeper.Sweep(ctx)
	if err != nil {
		logger.GetDefault().ErrorWithContext(ctx, "inline sweep failed", err, nil)
		return
	}
	if count > 0 {
		// Reclaimed stalls changed status, cached projections are stale
		if err := s.Invalidate(ctx); err != nil {
			logger.GetDefault().ErrorWithContext(ctx, "stall cache invalidation failed", err, nil)
		}
	}
}
