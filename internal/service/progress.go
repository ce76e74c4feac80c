package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/classify"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/repository"
)

const defaultProgressPoll = 2 * time.Second

// Progress is one point-in-time snapshot of a batch.
type Progress struct {
	BatchID         string             `json:"batchId"`
	Status          domain.BatchStatus `json:"status"`
	Percent         int                `json:"percent"`
	TotalRecords    int                `json:"totalRecords"`
	TotalChunks     int                `json:"totalChunks"`
	CompletedChunks int                `json:"completedChunks"`
	Generated       int64              `json:"generated"`
	Failed          int64              `json:"failed"`
	Invalid         int64              `json:"invalid"`
}

// BatchDetails is the full post-run report for a batch: failure statistics
// and the failed and invalid records grouped for display.
type BatchDetails struct {
	Batch    *domain.Batch                               `json:"batch"`
	Progress Progress                                    `json:"progress"`
	Stats    classify.Stats                              `json:"stats"`
	Failures map[classify.Category][]domain.FailedRecord `json:"failures"`
	Invalid  []domain.InvalidRecipient                   `json:"invalid"`
}

// ProgressService derives batch progress from durable counters. Status is
// computed, never stored: a batch whose chunks are all done is completed,
// or completed_with_errors when any record failed or was invalid.
type ProgressService struct {
	batches      repository.BatchRepository
	certificates repository.CertificateRepository
	failures     repository.FailureRepository
	logger       *zap.Logger
	pollInterval time.Duration
}

func NewProgressService(
	batches repository.BatchRepository,
	certificates repository.CertificateRepository,
	failures repository.FailureRepository,
	pollInterval time.Duration,
	logger *zap.Logger,
) (*ProgressService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if certificates == nil {
		return nil, fmt.Errorf("certificate repository is required")
	}
	if failures == nil {
		return nil, fmt.Errorf("failure repository is required")
	}
	if pollInterval <= 0 {
		pollInterval = defaultProgressPoll
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProgressService{
		batches:      batches,
		certificates: certificates,
		failures:     failures,
		logger:       logger,
		pollInterval: pollInterval,
	}, nil
}

func (s *ProgressService) GetProgress(ctx context.Context, batchID string) (Progress, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if errors.Is(err, domain.ErrNotFound) {
		// A batch whose creating transaction has not committed yet is
		// indistinguishable from an unknown one. Report it as pending so
		// watchers started right after submit do not see a gap.
		return Progress{BatchID: batchID, Status: domain.BatchStatusPending}, nil
	}
	if err != nil {
		return Progress{}, err
	}

	generated, err := s.certificates.CountByBatch(ctx, batchID)
	if err != nil {
		return Progress{}, fmt.Errorf("failed to count certificates: %w", err)
	}
	failed, err := s.failures.CountFailedByBatch(ctx, batchID)
	if err != nil {
		return Progress{}, fmt.Errorf("failed to count failures: %w", err)
	}
	invalid, err := s.failures.CountInvalidByBatch(ctx, batchID)
	if err != nil {
		return Progress{}, fmt.Errorf("failed to count invalid recipients: %w", err)
	}

	return Progress{
		BatchID:         batch.ID,
		Status:          deriveStatus(batch, failed, invalid),
		Percent:         domain.ProgressPercent(batch.CompletedChunks, batch.TotalChunks),
		TotalRecords:    batch.TotalRecords,
		TotalChunks:     batch.TotalChunks,
		CompletedChunks: batch.CompletedChunks,
		Generated:       generated,
		Failed:          failed,
		Invalid:         invalid,
	}, nil
}

// Watch emits progress snapshots on an interval until the batch reaches a
// terminal status or the context is cancelled. The channel is closed after
// the terminal snapshot.
func (s *ProgressService) Watch(ctx context.Context, batchID string) <-chan Progress {
	out := make(chan Progress)

	go func() {
		defer close(out)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			progress, err := s.GetProgress(ctx, batchID)
			if err != nil {
				s.logger.Warn("progress poll failed",
					zap.String("batchId", batchID),
					zap.Error(err),
				)
				return
			}

			select {
			case out <- progress:
			case <-ctx.Done():
				return
			}

			if progress.Status.IsTerminal() {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

func (s *ProgressService) Details(ctx context.Context, batchID string) (BatchDetails, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return BatchDetails{}, err
	}

	progress, err := s.GetProgress(ctx, batchID)
	if err != nil {
		return BatchDetails{}, err
	}

	failed, err := s.failures.ListFailedByBatch(ctx, batchID)
	if err != nil {
		return BatchDetails{}, fmt.Errorf("failed to list failures: %w", err)
	}
	invalid, err := s.failures.ListInvalidByBatch(ctx, batchID)
	if err != nil {
		return BatchDetails{}, fmt.Errorf("failed to list invalid recipients: %w", err)
	}

	return BatchDetails{
		Batch:    batch,
		Progress: progress,
		Stats:    classify.Summarize(failed),
		Failures: classify.GroupByCategory(failed),
		Invalid:  invalid,
	}, nil
}

// deriveStatus computes the user-facing status from durable counters.
func deriveStatus(batch *domain.Batch, failed, invalid int64) domain.BatchStatus {
	if batch.TotalChunks == 0 {
		return domain.BatchStatusCompleted
	}
	if batch.CompletedChunks >= batch.TotalChunks {
		if failed > 0 || invalid > 0 {
			return domain.BatchStatusCompletedWithErrors
		}
		return domain.BatchStatusCompleted
	}
	if batch.CompletedChunks == 0 && failed == 0 && invalid == 0 {
		return domain.BatchStatusPending
	}
	return domain.BatchStatusProcessing
}
