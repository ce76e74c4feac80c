package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/csvsource"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/observability"
	"github.com/certpipe/certpipe/internal/queue"
	"github.com/certpipe/certpipe/internal/repository"
)

const minChunkSize = 1

// SubmitInput carries one batch submission. Records are already parsed;
// callers own CSV ingestion so the orchestrator works the same for uploads
// and scheduler-fetched files.
type SubmitInput struct {
	Name       string
	OwnerID    string
	TemplateID string
	Subject    string
	Message    string
	EmailFrom  string
	CC         []string
	BCC        []string
	Records    []domain.Record
}

func (in SubmitInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: batch name is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(in.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}
	if len(in.Records) == 0 {
		return fmt.Errorf("%w: batch has no records", domain.ErrValidation)
	}
	return nil
}

// Orchestrator accepts batch submissions: it charges credits, persists the
// batch and splits the records into chunk messages for the generation
// workers. One credit is charged per record, in the same transaction that
// creates the batch.
type Orchestrator struct {
	batches   repository.BatchRepository
	templates repository.TemplateRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	chunkSize int
}

func NewOrchestrator(
	batches repository.BatchRepository,
	templates repository.TemplateRepository,
	publisher queue.Publisher,
	chunkSize int,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if chunkSize < minChunkSize {
		chunkSize = minChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		batches:   batches,
		templates: templates,
		publisher: publisher,
		logger:    logger,
		chunkSize: chunkSize,
	}, nil
}

func (s *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit creates a batch, deducting one credit per record.
func (s *Orchestrator) Submit(ctx context.Context, in SubmitInput) (*domain.Batch, error) {
	return s.submit(ctx, in, true)
}

// SubmitPrepared creates a batch without touching credits. Used for work
// that was already paid for: scheduled batches charged at scheduling time
// and resends of failures from an already-charged batch.
func (s *Orchestrator) SubmitPrepared(ctx context.Context, in SubmitInput) (*domain.Batch, error) {
	return s.submit(ctx, in, false)
}

func (s *Orchestrator) submit(ctx context.Context, in SubmitInput, deduct bool) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	if _, err := s.templates.GetByID(ctx, in.TemplateID); err != nil {
		return nil, fmt.Errorf("failed to resolve template %q: %w", in.TemplateID, err)
	}

	chunks := csvsource.Chunk(in.Records, s.chunkSize)

	batch := &domain.Batch{
		Name:         in.Name,
		OwnerID:      in.OwnerID,
		TotalRecords: len(in.Records),
		TotalChunks:  len(chunks),
	}

	if deduct {
		if err := s.batches.CreateWithDeduction(ctx, batch, len(in.Records), "batch_submission"); err != nil {
			return nil, err
		}
	} else {
		if err := s.batches.Create(ctx, batch); err != nil {
			return nil, err
		}
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	logger := s.logger.With(
		zap.String("batchId", batch.ID),
		zap.Int("totalRecords", batch.TotalRecords),
		zap.Int("totalChunks", batch.TotalChunks),
	)

	for i, chunk := range chunks {
		msg := queue.ChunkMessage{
			BatchID:       batch.ID,
			OwnerID:       in.OwnerID,
			TemplateID:    in.TemplateID,
			Subject:       in.Subject,
			Body:          in.Message,
			EmailFrom:     in.EmailFrom,
			CC:            in.CC,
			BCC:           in.BCC,
			ChunkIndex:    i,
			TotalChunks:   len(chunks),
			Records:       chunk,
			Attempt:       1,
			CorrelationID: correlationID,
		}
		if err := s.publisher.Publish(ctx, queue.ChunkQueue, msg); err != nil {
			logger.Error("failed to enqueue chunk",
				zap.Int("chunkIndex", i),
				zap.Error(err),
			)
			return batch, fmt.Errorf("failed to enqueue chunk %d of batch %s: %w", i, batch.ID, err)
		}
	}

	logger.Info("batch submitted")
	return batch, nil
}
