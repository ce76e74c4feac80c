package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	// CreateWithDeduction atomically deducts credits from the owner and
	// creates the batch plus a ledger row. A failed deduction leaves no
	// orphan batch.
	CreateWithDeduction(ctx context.Context, b *domain.Batch, cost int, reason string) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error)
	// LinkOrigin marks a batch as a resend of another batch.
	LinkOrigin(ctx context.Context, id, originID string) error
	// CompleteChunk atomically increments the completed-chunk count and
	// recomputes the derived progress percentage. Safe under concurrent
	// chunk completions: the database computes the new value from the
	// stored count, never from caller state.
	CompleteChunk(ctx context.Context, id string) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := b.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *GormBatchRepo) CreateWithDeduction(ctx context.Context, b *domain.Batch, cost int, reason string) error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if cost < 0 {
		return fmt.Errorf("%w: cost cannot be negative", domain.ErrValidation)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Account{}).
			Where("id = ? AND credits >= ?", b.OwnerID, cost).
			Update("credits", gorm.Expr("credits - ?", cost))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var account domain.Account
			if err := tx.First(&account, "id = ?", b.OwnerID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrNotFound
				}
				return err
			}
			return fmt.Errorf("%w: required %d, available %d",
				domain.ErrInsufficientCredits, cost, account.Credits)
		}

		if err := tx.Create(b).Error; err != nil {
			return err
		}

		ledger := domain.CreditTransaction{
			ID:        uuid.NewString(),
			AccountID: b.OwnerID,
			Amount:    cost,
			Type:      domain.CreditDeduct,
			Reason:    reason,
		}
		return tx.Create(&ledger).Error
	})
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *GormBatchRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *GormBatchRepo) LinkOrigin(ctx context.Context, id, originID string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"origin_batch_id": originID,
			"is_resend":       true,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) CompleteChunk(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"completed_chunks": gorm.Expr("completed_chunks + 1"),
			"progress": gorm.Expr(
				"LEAST(100, CAST(ROUND(100.0 * (completed_chunks + 1) / GREATEST(total_chunks, 1)) AS INTEGER))",
			),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
