package stalls

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	CreateStall(ctx context.Context, stall *Stall) error
	GetStallByID(ctx context.Context, id uuid.UUID) (*Stall, error)
	ListStalls(ctx context.Context, query StallListQuery) ([]Stall, int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateStall(ctx context.Context, stall *Stall) error {
	if stall.ID == uuid.Nil {
		stall.ID = uuid.New()
	}
	if stall.Status == "" {
		stall.Status = StatusAvailable
	}
	return r.db.WithContext(ctx).Create(stall).Error
}

func (r *repository) GetStallByID(ctx context.Context, id uuid.UUID) (*Stall, error) {
	var stall Stall
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&stall).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStallNotFound
		}
		return nil, err
	}
	return &stall, nil
}

func (r *repository) ListStalls(ctx context.Context, query StallListQuery) ([]Stall, int64, error) {
	var stalls []Stall
	var totalCount int64

	query.Normalize()

	baseQuery := r.db.WithContext(ctx).Model(&Stall{})
	if query.Zone != "" {
		baseQuery = baseQuery.Where("zone = ?", query.Zone)
	}
	if query.Status != "" {
		baseQuery = baseQuery.Where("status = ?", query.Status)
	}

	if err := baseQuery.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	err := baseQuery.
		Order("zone ASC, code ASC").
		Offset(query.Offset()).
		Limit(query.Limit).
		Find(&stalls).Error

	return stalls, totalCount, err
}
