package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetSendConfig returns the account's sender defaults, or ErrNotFound
	// when none were configured. Callers fall back to system defaults.
	GetSendConfig(ctx context.Context, accountID string) (*domain.SendConfig, error)
	// Deduct atomically takes credits from the account and writes a ledger
	// row. Returns ErrInsufficientCredits with required vs available when
	// the balance does not cover the amount.
	Deduct(ctx context.Context, accountID string, amount int, reason string) error
	// Grant returns credits to the account with a ledger row, used when a
	// reservation is released.
	Grant(ctx context.Context, accountID string, amount int, reason string) error
	ListTransactions(ctx context.Context, accountID string) ([]domain.CreditTransaction, error)
}

type GormAccountRepo struct {
	db *gorm.DB
}

func NewGormAccountRepo(db *gorm.DB) *GormAccountRepo {
	return &GormAccountRepo{db: db}
}

func (r *GormAccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *GormAccountRepo) GetSendConfig(ctx context.Context, accountID string) (*domain.SendConfig, error) {
	var cfg domain.SendConfig
	err := r.db.WithContext(ctx).First(&cfg, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *GormAccountRepo) Deduct(ctx context.Context, accountID string, amount int, reason string) error {
	if amount < 0 {
		return fmt.Errorf("%w: amount cannot be negative", domain.ErrValidation)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Account{}).
			Where("id = ? AND credits >= ?", accountID, amount).
			Update("credits", gorm.Expr("credits - ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var account domain.Account
			if err := tx.First(&account, "id = ?", accountID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrNotFound
				}
				return err
			}
			return fmt.Errorf("%w: required %d, available %d",
				domain.ErrInsufficientCredits, amount, account.Credits)
		}

		ledger := domain.CreditTransaction{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Amount:    amount,
			Type:      domain.CreditDeduct,
			Reason:    reason,
		}
		return tx.Create(&ledger).Error
	})
}

func (r *GormAccountRepo) Grant(ctx context.Context, accountID string, amount int, reason string) error {
	if amount < 0 {
		return fmt.Errorf("%w: amount cannot be negative", domain.ErrValidation)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Account{}).
			Where("id = ?", accountID).
			Update("credits", gorm.Expr("credits + ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		ledger := domain.CreditTransaction{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Amount:    amount,
			Type:      domain.CreditGrant,
			Reason:    reason,
		}
		return tx.Create(&ledger).Error
	})
}

func (r *GormAccountRepo) ListTransactions(ctx context.Context, accountID string) ([]domain.CreditTransaction, error) {
	var transactions []domain.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}
