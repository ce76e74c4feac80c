package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/artifact"
	"github.com/certpipe/certpipe/internal/csvsource"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/repository"
)

const defaultScheduleInterval = time.Minute

// ScheduleRunner promotes due scheduled batches into live submissions. Due
// schedules are processed sequentially, earliest first; credits were
// reserved when the schedule was created, so submission skips deduction.
type ScheduleRunner struct {
	schedules    repository.ScheduleRepository
	orchestrator *Orchestrator
	fetcher      artifact.AssetFetcher
	logger       *zap.Logger
	interval     time.Duration
	now          func() time.Time
}

func NewScheduleRunner(
	schedules repository.ScheduleRepository,
	orchestrator *Orchestrator,
	fetcher artifact.AssetFetcher,
	interval time.Duration,
	logger *zap.Logger,
) (*ScheduleRunner, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule repository is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("csv fetcher is required")
	}
	if interval <= 0 {
		interval = defaultScheduleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduleRunner{
		schedules:    schedules,
		orchestrator: orchestrator,
		fetcher:      fetcher,
		logger:       logger,
		interval:     interval,
		now:          time.Now,
	}, nil
}

func (s *ScheduleRunner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.runDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

func (s *ScheduleRunner) runDue(ctx context.Context) error {
	due, err := s.schedules.ListDue(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to list due schedules: %w", err)
	}

	for i := range due {
		schedule := due[i]
		if err := s.runOne(ctx, &schedule); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("scheduled batch failed",
				zap.String("scheduleId", schedule.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *ScheduleRunner) runOne(ctx context.Context, schedule *domain.ScheduledBatch) error {
	if err := s.schedules.UpdateStatus(ctx, schedule.ID, domain.ScheduleStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark schedule processing: %w", err)
	}

	batch, err := s.submit(ctx, schedule)
	if err != nil {
		if markErr := s.schedules.MarkFailed(ctx, schedule.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark schedule failed",
				zap.String("scheduleId", schedule.ID),
				zap.Error(markErr),
			)
		}
		return err
	}

	if err := s.schedules.UpdateStatus(ctx, schedule.ID, domain.ScheduleStatusCompleted); err != nil {
		return fmt.Errorf("failed to mark schedule completed: %w", err)
	}

	s.logger.Info("scheduled batch submitted",
		zap.String("scheduleId", schedule.ID),
		zap.String("batchId", batch.ID),
	)
	return nil
}

func (s *ScheduleRunner) submit(ctx context.Context, schedule *domain.ScheduledBatch) (*domain.Batch, error) {
	csvData, err := s.fetcher.Fetch(ctx, schedule.CSVLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch csv: %w", err)
	}

	records, err := csvsource.Parse(bytes.NewReader(csvData))
	if err != nil {
		return nil, err
	}

	return s.orchestrator.SubmitPrepared(ctx, SubmitInput{
		Name:       schedule.Name,
		OwnerID:    schedule.OwnerID,
		TemplateID: schedule.TemplateID,
		Subject:    schedule.Subject,
		Message:    schedule.Message,
		CC:         domain.SplitAddressList(schedule.CC),
		BCC:        domain.SplitAddressList(schedule.BCC),
		Records:    records,
	})
}
