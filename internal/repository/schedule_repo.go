package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.ScheduledBatch) error
	GetByID(ctx context.Context, id string) (*domain.ScheduledBatch, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.ScheduledBatch, error)
	// ListDue returns pending schedules whose run time has passed, earliest
	// first, so overdue work is drained in submission order.
	ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledBatch, error)
	UpdateStatus(ctx context.Context, id string, status domain.ScheduleStatus) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// Cancel flips a schedule to cancelled only while it is still pending.
	// Returns ErrConflict once the scheduler has picked it up.
	Cancel(ctx context.Context, id string) error
}

type GormScheduleRepo struct {
	db *gorm.DB
}

func NewGormScheduleRepo(db *gorm.DB) *GormScheduleRepo {
	return &GormScheduleRepo{db: db}
}

func (r *GormScheduleRepo) Create(ctx context.Context, s *domain.ScheduledBatch) error {
	if s == nil {
		return fmt.Errorf("%w: scheduled batch is required", domain.ErrValidation)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = domain.ScheduleStatusPending
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *GormScheduleRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledBatch, error) {
	var schedule domain.ScheduledBatch
	err := r.db.WithContext(ctx).First(&schedule, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *GormScheduleRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.ScheduledBatch, error) {
	var schedules []domain.ScheduledBatch
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("run_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *GormScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledBatch, error) {
	var schedules []domain.ScheduledBatch
	err := r.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", domain.ScheduleStatusPending, now).
		Order("run_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *GormScheduleRepo) UpdateStatus(ctx context.Context, id string, status domain.ScheduleStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown schedule status %q", domain.ErrValidation, status)
	}
	result := r.db.WithContext(ctx).
		Model(&domain.ScheduledBatch{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormScheduleRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ScheduledBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": domain.ScheduleStatusFailed,
			"error":  reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormScheduleRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ScheduledBatch{}).
		Where("id = ? AND status = ?", id, domain.ScheduleStatusPending).
		Update("status", domain.ScheduleStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var schedule domain.ScheduledBatch
		err := r.db.WithContext(ctx).First(&schedule, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: schedule is %s, only pending schedules can be cancelled",
			domain.ErrConflict, schedule.Status)
	}
	return nil
}
