package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CertificateRepository interface {
	Create(ctx context.Context, c *domain.Certificate) error
	SetImageURL(ctx context.Context, id, url string) error
	// Delete removes a certificate whose artifact never materialized.
	Delete(ctx context.Context, id string) error
	GetByPublicID(ctx context.Context, publicID string) (*domain.Certificate, error)
	// FirstTemplateID returns the template used by the earliest certificate
	// in a batch that has an uploaded artifact. Resends reuse it so reissued
	// artifacts match the originals; a batch with no finished artifact has no
	// template to reuse.
	FirstTemplateID(ctx context.Context, batchID string) (string, error)
	// CountByBatch counts certificates with an uploaded artifact.
	CountByBatch(ctx context.Context, batchID string) (int64, error)
}

type GormCertificateRepo struct {
	db *gorm.DB
}

func NewGormCertificateRepo(db *gorm.DB) *GormCertificateRepo {
	return &GormCertificateRepo{db: db}
}

func (r *GormCertificateRepo) Create(ctx context.Context, c *domain.Certificate) error {
	if c == nil {
		return fmt.Errorf("%w: certificate is required", domain.ErrValidation)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.PublicID == "" {
		c.PublicID = uuid.NewString()
	}
	if c.BatchID == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *GormCertificateRepo) SetImageURL(ctx context.Context, id, url string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Certificate{}).
		Where("id = ?", id).
		Update("image_url", url)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCertificateRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&domain.Certificate{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCertificateRepo) GetByPublicID(ctx context.Context, publicID string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := r.db.WithContext(ctx).First(&cert, "public_id = ?", publicID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *GormCertificateRepo) FirstTemplateID(ctx context.Context, batchID string) (string, error) {
	var cert domain.Certificate
	err := r.db.WithContext(ctx).
		Select("template_id").
		Where("batch_id = ? AND image_url <> ''", batchID).
		Order("created_at ASC").
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return cert.TemplateID, nil
}

func (r *GormCertificateRepo) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Certificate{}).
		Where("batch_id = ? AND image_url <> ''", batchID).
		Count(&count).Error
	return count, err
}
