package repository

import (
	"context"
	"fmt"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FailureRepository interface {
	CreateFailed(ctx context.Context, f *domain.FailedRecord) error
	CreateInvalid(ctx context.Context, inv *domain.InvalidRecipient) error
	ListFailedByBatch(ctx context.Context, batchID string) ([]domain.FailedRecord, error)
	// ListFailedByIDs returns the subset of a batch's failures matching the
	// given ids, preserving insertion order. Unknown ids are silently skipped.
	ListFailedByIDs(ctx context.Context, batchID string, ids []string) ([]domain.FailedRecord, error)
	ListInvalidByBatch(ctx context.Context, batchID string) ([]domain.InvalidRecipient, error)
	CountFailedByBatch(ctx context.Context, batchID string) (int64, error)
	CountInvalidByBatch(ctx context.Context, batchID string) (int64, error)
}

type GormFailureRepo struct {
	db *gorm.DB
}

func NewGormFailureRepo(db *gorm.DB) *GormFailureRepo {
	return &GormFailureRepo{db: db}
}

func (r *GormFailureRepo) CreateFailed(ctx context.Context, f *domain.FailedRecord) error {
	if f == nil {
		return fmt.Errorf("%w: failed record is required", domain.ErrValidation)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.BatchID == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *GormFailureRepo) CreateInvalid(ctx context.Context, inv *domain.InvalidRecipient) error {
	if inv == nil {
		return fmt.Errorf("%w: invalid recipient is required", domain.ErrValidation)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.BatchID == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *GormFailureRepo) ListFailedByBatch(ctx context.Context, batchID string) ([]domain.FailedRecord, error) {
	var failures []domain.FailedRecord
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&failures).Error
	if err != nil {
		return nil, err
	}
	return failures, nil
}

func (r *GormFailureRepo) ListFailedByIDs(ctx context.Context, batchID string, ids []string) ([]domain.FailedRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var failures []domain.FailedRecord
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND id IN ?", batchID, ids).
		Order("created_at ASC").
		Find(&failures).Error
	if err != nil {
		return nil, err
	}
	return failures, nil
}

func (r *GormFailureRepo) ListInvalidByBatch(ctx context.Context, batchID string) ([]domain.InvalidRecipient, error) {
	var invalid []domain.InvalidRecipient
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&invalid).Error
	if err != nil {
		return nil, err
	}
	return invalid, nil
}

func (r *GormFailureRepo) CountFailedByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.FailedRecord{}).
		Where("batch_id = ?", batchID).
		Count(&count).Error
	return count, err
}

func (r *GormFailureRepo) CountInvalidByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.InvalidRecipient{}).
		Where("batch_id = ?", batchID).
		Count(&count).Error
	return count, err
}
