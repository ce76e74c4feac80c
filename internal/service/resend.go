package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/classify"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/repository"
)

// ResendService reissues the resendable failures of a batch as a new,
// linked batch. The template is taken from the first succeeded certificate
// of the origin batch; a batch with no successes cannot be resent because
// there is nothing to derive the layout from. CC and BCC are dropped on
// resends so list recipients are not duplicated.
type ResendService struct {
	batches      repository.BatchRepository
	certificates repository.CertificateRepository
	failures     repository.FailureRepository
	orchestrator *Orchestrator
	logger       *zap.Logger
}

func NewResendService(
	batches repository.BatchRepository,
	certificates repository.CertificateRepository,
	failures repository.FailureRepository,
	orchestrator *Orchestrator,
	logger *zap.Logger,
) (*ResendService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if certificates == nil {
		return nil, fmt.Errorf("certificate repository is required")
	}
	if failures == nil {
		return nil, fmt.Errorf("failure repository is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResendService{
		batches:      batches,
		certificates: certificates,
		failures:     failures,
		orchestrator: orchestrator,
		logger:       logger,
	}, nil
}

// Resend creates a resend batch from a batch's failures. When failureIDs is
// non-empty only those failures are considered; either way, failures whose
// error classifies as non-resendable are filtered out.
func (s *ResendService) Resend(ctx context.Context, batchID string, failureIDs []string) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	origin, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %q: %w", batchID, err)
	}

	var failed []domain.FailedRecord
	if len(failureIDs) > 0 {
		failed, err = s.failures.ListFailedByIDs(ctx, origin.ID, failureIDs)
	} else {
		failed, err = s.failures.ListFailedByBatch(ctx, origin.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load failures for batch %q: %w", origin.ID, err)
	}

	resendable := classify.Resendable(failed)
	if len(resendable) == 0 {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNoResendableFailures, origin.ID)
	}

	templateID, err := s.certificates.FirstTemplateID(ctx, origin.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf(
				"%w: batch %s has no succeeded certificate to derive the template from",
				domain.ErrConflict, origin.ID,
			)
		}
		return nil, fmt.Errorf("failed to resolve template for batch %q: %w", origin.ID, err)
	}

	records := make([]domain.Record, 0, len(resendable))
	for _, f := range resendable {
		records = append(records, f.Data)
	}

	// Credits were consumed when the origin batch was submitted, so the
	// resend enqueues without a second deduction.
	resend, err := s.orchestrator.SubmitPrepared(ctx, SubmitInput{
		Name:       origin.Name + " (resend)",
		OwnerID:    origin.OwnerID,
		TemplateID: templateID,
		Records:    records,
	})
	if err != nil {
		return nil, err
	}

	originID := origin.ID
	resend.OriginBatchID = &originID
	resend.IsResend = true
	if err := s.batches.LinkOrigin(ctx, resend.ID, originID); err != nil {
		s.logger.Warn("failed to link resend batch to origin",
			zap.String("batchId", resend.ID),
			zap.String("originBatchId", originID),
			zap.Error(err),
		)
	}

	s.logger.Info("resend batch created",
		zap.String("originBatchId", originID),
		zap.String("batchId", resend.ID),
		zap.Int("resendable", len(resendable)),
		zap.Int("excluded", len(failed)-len(resendable)),
	)

	return resend, nil
}
