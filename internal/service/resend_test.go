package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/queue"
)

func originBatch() *domain.Batch {
	return &domain.Batch{
		ID:          "batch-1",
		Name:        "graduation",
		OwnerID:     "owner-1",
		TotalChunks: 1,
	}
}

func failedRecords() []domain.FailedRecord {
	return []domain.FailedRecord{
		{
			ID:      "f1",
			BatchID: "batch-1",
			Data:    domain.Record{Columns: []string{"Email"}, Values: map[string]string{"Email": "a@example.com"}},
			Error:   "connection timeout",
		},
		{
			ID:      "f2",
			BatchID: "batch-1",
			Data:    domain.Record{Columns: []string{"Email"}, Values: map[string]string{"Email": "b@example.com"}},
			Error:   "address bounced: hard bounce",
		},
		{
			ID:      "f3",
			BatchID: "batch-1",
			Data:    domain.Record{Columns: []string{"Email"}, Values: map[string]string{"Email": "c@example.com"}},
			Error:   "internal server error",
		},
	}
}

func newTestResendService(
	t *testing.T,
	batches *fakeBatchRepo,
	certificates *fakeCertificateRepo,
	failures *fakeFailureRepo,
	publisher *fakePublisher,
) *ResendService {
	t.Helper()

	orchestrator := newTestOrchestrator(t, batches, publisher)
	svc, err := NewResendService(batches, certificates, failures, orchestrator, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResendService() error = %v", err)
	}
	return svc
}

func TestResendFiltersNonResendable(t *testing.T) {
	t.Parallel()

	var linkedOrigin string
	batches := &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			return originBatch(), nil
		},
		createFn: func(ctx context.Context, b *domain.Batch) error {
			b.ID = "batch-2"
			return nil
		},
		createWithDeductionFn: func(ctx context.Context, b *domain.Batch, cost int, reason string) error {
			t.Fatal("resend must not deduct credits a second time")
			return nil
		},
		linkOriginFn: func(ctx context.Context, id, originID string) error {
			linkedOrigin = originID
			return nil
		},
	}
	certificates := &fakeCertificateRepo{
		firstTemplateIDFn: func(ctx context.Context, batchID string) (string, error) {
			return "tmpl-1", nil
		},
	}
	failures := &fakeFailureRepo{
		listFailedByBatchFn: func(ctx context.Context, batchID string) ([]domain.FailedRecord, error) {
			return failedRecords(), nil
		},
	}
	publisher := &fakePublisher{}

	svc := newTestResendService(t, batches, certificates, failures, publisher)

	resent, err := svc.Resend(context.Background(), "batch-1", nil)
	if err != nil {
		t.Fatalf("Resend() error = %v", err)
	}

	if !resent.IsResend || resent.OriginBatchID == nil || *resent.OriginBatchID != "batch-1" {
		t.Fatalf("resend batch not linked: %+v", resent)
	}
	if linkedOrigin != "batch-1" {
		t.Fatalf("LinkOrigin called with %q, want batch-1", linkedOrigin)
	}

	published := publisher.all()
	if len(published) != 1 {
		t.Fatalf("published chunks = %d, want 1", len(published))
	}
	chunk, _ := published[0].msg.(queue.ChunkMessage)
	// The bounced failure (f2) is compliance and must be excluded.
	if len(chunk.Records) != 2 {
		t.Fatalf("resend records = %d, want 2", len(chunk.Records))
	}
	if len(chunk.CC) != 0 || len(chunk.BCC) != 0 {
		t.Fatal("resend chunks must not carry CC or BCC")
	}
	if chunk.TemplateID != "tmpl-1" {
		t.Fatalf("resend template = %q, want tmpl-1", chunk.TemplateID)
	}
}

func TestResendNoResendableFailures(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			return originBatch(), nil
		},
	}
	failures := &fakeFailureRepo{
		listFailedByBatchFn: func(ctx context.Context, batchID string) ([]domain.FailedRecord, error) {
			return []domain.FailedRecord{
				{ID: "f1", BatchID: "batch-1", Error: "address bounced"},
				{ID: "f2", BatchID: "batch-1", Error: "invalid email format"},
			}, nil
		},
	}

	svc := newTestResendService(t, batches, &fakeCertificateRepo{}, failures, &fakePublisher{})

	_, err := svc.Resend(context.Background(), "batch-1", nil)
	if !errors.Is(err, domain.ErrNoResendableFailures) {
		t.Fatalf("Resend() error = %v, want ErrNoResendableFailures", err)
	}
}

func TestResendRefusesWithoutSucceededCertificate(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			return originBatch(), nil
		},
	}
	certificates := &fakeCertificateRepo{
		firstTemplateIDFn: func(ctx context.Context, batchID string) (string, error) {
			return "", domain.ErrNotFound
		},
	}
	failures := &fakeFailureRepo{
		listFailedByBatchFn: func(ctx context.Context, batchID string) ([]domain.FailedRecord, error) {
			return failedRecords(), nil
		},
	}

	svc := newTestResendService(t, batches, certificates, failures, &fakePublisher{})

	_, err := svc.Resend(context.Background(), "batch-1", nil)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Resend() error = %v, want ErrConflict", err)
	}
}

func TestResendSubsetByFailureIDs(t *testing.T) {
	t.Parallel()

	var requestedIDs []string
	batches := &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			return originBatch(), nil
		},
		createFn: func(ctx context.Context, b *domain.Batch) error {
			b.ID = "batch-2"
			return nil
		},
	}
	certificates := &fakeCertificateRepo{
		firstTemplateIDFn: func(ctx context.Context, batchID string) (string, error) {
			return "tmpl-1", nil
		},
	}
	failures := &fakeFailureRepo{
		listFailedByIDsFn: func(ctx context.Context, batchID string, ids []string) ([]domain.FailedRecord, error) {
			requestedIDs = ids
			return failedRecords()[:1], nil
		},
	}

	svc := newTestResendService(t, batches, certificates, failures, &fakePublisher{})

	_, err := svc.Resend(context.Background(), "batch-1", []string{"f1"})
	if err != nil {
		t.Fatalf("Resend() error = %v", err)
	}
	if len(requestedIDs) != 1 || requestedIDs[0] != "f1" {
		t.Fatalf("requested ids = %v, want [f1]", requestedIDs)
	}
}

func TestResendMissingBatch(t *testing.T) {
	t.Parallel()

	svc := newTestResendService(t, &fakeBatchRepo{}, &fakeCertificateRepo{}, &fakeFailureRepo{}, &fakePublisher{})

	_, err := svc.Resend(context.Background(), "missing", nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Resend() error = %v, want ErrNotFound", err)
	}
}
