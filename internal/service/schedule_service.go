package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/artifact"
	"github.com/certpipe/certpipe/internal/csvsource"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/repository"
)

// ScheduleInput carries a deferred submission request. CC and BCC are
// comma-separated address lists.
type ScheduleInput struct {
	Name        string
	OwnerID     string
	TemplateID  string
	CSVLocation string
	Subject     string
	Message     string
	CC          string
	BCC         string
	RunAt       time.Time
}

// ScheduleService manages deferred batch submissions. The CSV is fetched
// and parsed at scheduling time so malformed input fails immediately, and
// credits for the full record count are reserved up front. The scheduler
// loop later submits without a second deduction; cancelling a pending
// schedule returns the reservation.
type ScheduleService struct {
	schedules repository.ScheduleRepository
	templates repository.TemplateRepository
	accounts  repository.AccountRepository
	fetcher   artifact.AssetFetcher
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduleService(
	schedules repository.ScheduleRepository,
	templates repository.TemplateRepository,
	accounts repository.AccountRepository,
	fetcher artifact.AssetFetcher,
	logger *zap.Logger,
) (*ScheduleService, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule repository is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("csv fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduleService{
		schedules: schedules,
		templates: templates,
		accounts:  accounts,
		fetcher:   fetcher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *ScheduleService) Create(ctx context.Context, in ScheduleInput) (*domain.ScheduledBatch, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !in.RunAt.After(s.now()) {
		return nil, fmt.Errorf("%w: run time must be in the future", domain.ErrValidation)
	}
	if strings.TrimSpace(in.TemplateID) == "" {
		return nil, fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}
	if _, err := s.templates.GetByID(ctx, in.TemplateID); err != nil {
		return nil, fmt.Errorf("failed to resolve template %q: %w", in.TemplateID, err)
	}

	csvData, err := s.fetcher.Fetch(ctx, in.CSVLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: csv is not reachable: %v", domain.ErrValidation, err)
	}
	records, err := csvsource.Parse(bytes.NewReader(csvData))
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Deduct(ctx, in.OwnerID, len(records), "schedule_reservation"); err != nil {
		return nil, err
	}

	schedule := &domain.ScheduledBatch{
		Name:        in.Name,
		OwnerID:     in.OwnerID,
		TemplateID:  in.TemplateID,
		CSVLocation: in.CSVLocation,
		Subject:     in.Subject,
		Message:     in.Message,
		CC:          in.CC,
		BCC:         in.BCC,
		RecordCount: len(records),
		RunAt:       in.RunAt,
		Status:      domain.ScheduleStatusPending,
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		// The reservation is already taken; give it back rather than
		// leaving the account short for a schedule that does not exist.
		if grantErr := s.accounts.Grant(ctx, in.OwnerID, len(records), "schedule_reservation_rollback"); grantErr != nil {
			s.logger.Error("failed to roll back schedule reservation",
				zap.String("ownerId", in.OwnerID),
				zap.Int("amount", len(records)),
				zap.Error(grantErr),
			)
		}
		return nil, err
	}

	s.logger.Info("batch scheduled",
		zap.String("scheduleId", schedule.ID),
		zap.String("ownerId", schedule.OwnerID),
		zap.Int("records", schedule.RecordCount),
		zap.Time("runAt", schedule.RunAt),
	)
	return schedule, nil
}

func (s *ScheduleService) Get(ctx context.Context, id string) (*domain.ScheduledBatch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.schedules.GetByID(ctx, id)
}

func (s *ScheduleService) List(ctx context.Context, ownerID string) ([]domain.ScheduledBatch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.schedules.ListByOwner(ctx, ownerID)
}

// Cancel stops a pending schedule and returns its credit reservation.
// Schedules already picked up by the runner cannot be cancelled.
func (s *ScheduleService) Cancel(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.schedules.Cancel(ctx, id); err != nil {
		return err
	}

	if schedule.RecordCount > 0 {
		if err := s.accounts.Grant(ctx, schedule.OwnerID, schedule.RecordCount, "schedule_cancellation"); err != nil {
			s.logger.Error("failed to refund cancelled schedule",
				zap.String("scheduleId", id),
				zap.String("ownerId", schedule.OwnerID),
				zap.Int("amount", schedule.RecordCount),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("schedule cancelled", zap.String("scheduleId", id))
	return nil
}
