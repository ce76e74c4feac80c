package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/certpipe/certpipe/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SuppressionRepository interface {
	// IsSuppressed reports whether the normalized address is on the list.
	IsSuppressed(ctx context.Context, email string) (bool, error)
	Get(ctx context.Context, email string) (*domain.SuppressionEntry, error)
	// Upsert records a suppression, keeping the earliest reason on conflict.
	Upsert(ctx context.Context, entry *domain.SuppressionEntry) error
}

type GormSuppressionRepo struct {
	db *gorm.DB
}

func NewGormSuppressionRepo(db *gorm.DB) *GormSuppressionRepo {
	return &GormSuppressionRepo{db: db}
}

func (r *GormSuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.SuppressionEntry{}).
		Where("email = ?", domain.NormalizeEmail(email)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormSuppressionRepo) Get(ctx context.Context, email string) (*domain.SuppressionEntry, error) {
	var entry domain.SuppressionEntry
	err := r.db.WithContext(ctx).First(&entry, "email = ?", domain.NormalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *GormSuppressionRepo) Upsert(ctx context.Context, entry *domain.SuppressionEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: suppression entry is required", domain.ErrValidation)
	}
	if !entry.Reason.IsValid() {
		return fmt.Errorf("%w: unknown suppression reason %q", domain.ErrValidation, entry.Reason)
	}
	entry.Email = domain.NormalizeEmail(entry.Email)
	if entry.Email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).
		Create(entry).Error
}
