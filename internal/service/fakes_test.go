package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/mailer"
	"github.com/certpipe/certpipe/internal/queue"
	"github.com/certpipe/certpipe/internal/ratelimit"
)

type fakeBatchRepo struct {
	createFn              func(ctx context.Context, b *domain.Batch) error
	createWithDeductionFn func(ctx context.Context, b *domain.Batch, cost int, reason string) error
	getByIDFn             func(ctx context.Context, id string) (*domain.Batch, error)
	listByOwnerFn         func(ctx context.Context, ownerID string) ([]domain.Batch, error)
	linkOriginFn          func(ctx context.Context, id, originID string) error
	completeChunkFn       func(ctx context.Context, id string) error
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if f.createFn == nil {
		if b.ID == "" {
			b.ID = "batch-1"
		}
		return nil
	}
	return f.createFn(ctx, b)
}

func (f *fakeBatchRepo) CreateWithDeduction(ctx context.Context, b *domain.Batch, cost int, reason string) error {
	if f.createWithDeductionFn == nil {
		if b.ID == "" {
			b.ID = "batch-1"
		}
		return nil
	}
	return f.createWithDeductionFn(ctx, b, cost, reason)
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeBatchRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	if f.listByOwnerFn == nil {
		return nil, nil
	}
	return f.listByOwnerFn(ctx, ownerID)
}

func (f *fakeBatchRepo) LinkOrigin(ctx context.Context, id, originID string) error {
	if f.linkOriginFn == nil {
		return nil
	}
	return f.linkOriginFn(ctx, id, originID)
}

func (f *fakeBatchRepo) CompleteChunk(ctx context.Context, id string) error {
	if f.completeChunkFn == nil {
		return nil
	}
	return f.completeChunkFn(ctx, id)
}

type fakeTemplateRepo struct {
	createFn      func(ctx context.Context, t *domain.Template) error
	getByIDFn     func(ctx context.Context, id string) (*domain.Template, error)
	listByOwnerFn func(ctx context.Context, ownerID string) ([]domain.Template, error)
}

func (f *fakeTemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, t)
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	if f.getByIDFn == nil {
		return &domain.Template{
			ID:       id,
			OwnerID:  "owner-1",
			Name:     "completion",
			ImageURL: "https://assets.example.com/base.png",
			Width:    400,
			Height:   300,
		}, nil
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeTemplateRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Template, error) {
	if f.listByOwnerFn == nil {
		return nil, nil
	}
	return f.listByOwnerFn(ctx, ownerID)
}

type fakeCertificateRepo struct {
	createFn          func(ctx context.Context, c *domain.Certificate) error
	setImageURLFn     func(ctx context.Context, id, url string) error
	deleteFn          func(ctx context.Context, id string) error
	getByPublicIDFn   func(ctx context.Context, publicID string) (*domain.Certificate, error)
	firstTemplateIDFn func(ctx context.Context, batchID string) (string, error)
	countByBatchFn    func(ctx context.Context, batchID string) (int64, error)
}

func (f *fakeCertificateRepo) Create(ctx context.Context, c *domain.Certificate) error {
	if f.createFn == nil {
		if c.ID == "" {
			c.ID = "cert-1"
		}
		if c.PublicID == "" {
			c.PublicID = "pub-1"
		}
		return nil
	}
	return f.createFn(ctx, c)
}

func (f *fakeCertificateRepo) SetImageURL(ctx context.Context, id, url string) error {
	if f.setImageURLFn == nil {
		return nil
	}
	return f.setImageURLFn(ctx, id, url)
}

func (f *fakeCertificateRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, id)
}

func (f *fakeCertificateRepo) GetByPublicID(ctx context.Context, publicID string) (*domain.Certificate, error) {
	if f.getByPublicIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByPublicIDFn(ctx, publicID)
}

func (f *fakeCertificateRepo) FirstTemplateID(ctx context.Context, batchID string) (string, error) {
	if f.firstTemplateIDFn == nil {
		return "", domain.ErrNotFound
	}
	return f.firstTemplateIDFn(ctx, batchID)
}

func (f *fakeCertificateRepo) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	if f.countByBatchFn == nil {
		return 0, nil
	}
	return f.countByBatchFn(ctx, batchID)
}

type fakeFailureRepo struct {
	mu      sync.Mutex
	failed  []domain.FailedRecord
	invalid []domain.InvalidRecipient

	createFailedFn       func(ctx context.Context, f *domain.FailedRecord) error
	createInvalidFn      func(ctx context.Context, inv *domain.InvalidRecipient) error
	listFailedByBatchFn  func(ctx context.Context, batchID string) ([]domain.FailedRecord, error)
	listFailedByIDsFn    func(ctx context.Context, batchID string, ids []string) ([]domain.FailedRecord, error)
	listInvalidByBatchFn func(ctx context.Context, batchID string) ([]domain.InvalidRecipient, error)
	countFailedFn        func(ctx context.Context, batchID string) (int64, error)
	countInvalidFn       func(ctx context.Context, batchID string) (int64, error)
}

func (f *fakeFailureRepo) CreateFailed(ctx context.Context, rec *domain.FailedRecord) error {
	if f.createFailedFn != nil {
		return f.createFailedFn(ctx, rec)
	}
	f.mu.Lock()
	f.failed = append(f.failed, *rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeFailureRepo) CreateInvalid(ctx context.Context, inv *domain.InvalidRecipient) error {
	if f.createInvalidFn != nil {
		return f.createInvalidFn(ctx, inv)
	}
	f.mu.Lock()
	f.invalid = append(f.invalid, *inv)
	f.mu.Unlock()
	return nil
}

func (f *fakeFailureRepo) ListFailedByBatch(ctx context.Context, batchID string) ([]domain.FailedRecord, error) {
	if f.listFailedByBatchFn != nil {
		return f.listFailedByBatchFn(ctx, batchID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.FailedRecord, len(f.failed))
	copy(out, f.failed)
	return out, nil
}

func (f *fakeFailureRepo) ListFailedByIDs(ctx context.Context, batchID string, ids []string) ([]domain.FailedRecord, error) {
	if f.listFailedByIDsFn != nil {
		return f.listFailedByIDsFn(ctx, batchID, ids)
	}
	return nil, nil
}

func (f *fakeFailureRepo) ListInvalidByBatch(ctx context.Context, batchID string) ([]domain.InvalidRecipient, error) {
	if f.listInvalidByBatchFn != nil {
		return f.listInvalidByBatchFn(ctx, batchID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.InvalidRecipient, len(f.invalid))
	copy(out, f.invalid)
	return out, nil
}

func (f *fakeFailureRepo) CountFailedByBatch(ctx context.Context, batchID string) (int64, error) {
	if f.countFailedFn != nil {
		return f.countFailedFn(ctx, batchID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.failed)), nil
}

func (f *fakeFailureRepo) CountInvalidByBatch(ctx context.Context, batchID string) (int64, error) {
	if f.countInvalidFn != nil {
		return f.countInvalidFn(ctx, batchID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.invalid)), nil
}

type fakeAccountRepo struct {
	getByIDFn          func(ctx context.Context, id string) (*domain.Account, error)
	getSendConfigFn    func(ctx context.Context, accountID string) (*domain.SendConfig, error)
	deductFn           func(ctx context.Context, accountID string, amount int, reason string) error
	grantFn            func(ctx context.Context, accountID string, amount int, reason string) error
	listTransactionsFn func(ctx context.Context, accountID string) ([]domain.CreditTransaction, error)
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeAccountRepo) GetSendConfig(ctx context.Context, accountID string) (*domain.SendConfig, error) {
	if f.getSendConfigFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getSendConfigFn(ctx, accountID)
}

func (f *fakeAccountRepo) Deduct(ctx context.Context, accountID string, amount int, reason string) error {
	if f.deductFn == nil {
		return nil
	}
	return f.deductFn(ctx, accountID, amount, reason)
}

func (f *fakeAccountRepo) Grant(ctx context.Context, accountID string, amount int, reason string) error {
	if f.grantFn == nil {
		return nil
	}
	return f.grantFn(ctx, accountID, amount, reason)
}

func (f *fakeAccountRepo) ListTransactions(ctx context.Context, accountID string) ([]domain.CreditTransaction, error) {
	if f.listTransactionsFn == nil {
		return nil, nil
	}
	return f.listTransactionsFn(ctx, accountID)
}

type fakeSuppressionRepo struct {
	mu      sync.Mutex
	entries map[string]domain.SuppressionEntry

	isSuppressedFn func(ctx context.Context, email string) (bool, error)
	upsertFn       func(ctx context.Context, entry *domain.SuppressionEntry) error
}

func (f *fakeSuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	if f.isSuppressedFn != nil {
		return f.isSuppressedFn(ctx, email)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[domain.NormalizeEmail(email)]
	return ok, nil
}

func (f *fakeSuppressionRepo) Get(ctx context.Context, email string) (*domain.SuppressionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

func (f *fakeSuppressionRepo) Upsert(ctx context.Context, entry *domain.SuppressionEntry) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, entry)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[string]domain.SuppressionEntry)
	}
	f.entries[domain.NormalizeEmail(entry.Email)] = *entry
	return nil
}

type fakeScheduleRepo struct {
	createFn       func(ctx context.Context, s *domain.ScheduledBatch) error
	getByIDFn      func(ctx context.Context, id string) (*domain.ScheduledBatch, error)
	listByOwnerFn  func(ctx context.Context, ownerID string) ([]domain.ScheduledBatch, error)
	listDueFn      func(ctx context.Context, now time.Time) ([]domain.ScheduledBatch, error)
	updateStatusFn func(ctx context.Context, id string, status domain.ScheduleStatus) error
	markFailedFn   func(ctx context.Context, id string, reason string) error
	cancelFn       func(ctx context.Context, id string) error
}

func (f *fakeScheduleRepo) Create(ctx context.Context, s *domain.ScheduledBatch) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, s)
}

func (f *fakeScheduleRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledBatch, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeScheduleRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.ScheduledBatch, error) {
	if f.listByOwnerFn == nil {
		return nil, nil
	}
	return f.listByOwnerFn(ctx, ownerID)
}

func (f *fakeScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledBatch, error) {
	if f.listDueFn == nil {
		return nil, nil
	}
	return f.listDueFn(ctx, now)
}

func (f *fakeScheduleRepo) UpdateStatus(ctx context.Context, id string, status domain.ScheduleStatus) error {
	if f.updateStatusFn == nil {
		return nil
	}
	return f.updateStatusFn(ctx, id, status)
}

func (f *fakeScheduleRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	if f.markFailedFn == nil {
		return nil
	}
	return f.markFailedFn(ctx, id, reason)
}

func (f *fakeScheduleRepo) Cancel(ctx context.Context, id string) error {
	if f.cancelFn == nil {
		return nil
	}
	return f.cancelFn(ctx, id)
}

type publishedMessage struct {
	queue string
	msg   queue.Message
	delay time.Duration
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage

	publishFn func(ctx context.Context, queueName string, msg queue.Message) error
	delayFn   func(ctx context.Context, queueName string, msg queue.Message, delay time.Duration) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	f.mu.Lock()
	f.published = append(f.published, publishedMessage{queue: queueName, msg: msg})
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) PublishWithDelay(ctx context.Context, queueName string, msg queue.Message, delay time.Duration) error {
	if f.delayFn != nil {
		return f.delayFn(ctx, queueName, msg, delay)
	}
	f.mu.Lock()
	f.published = append(f.published, publishedMessage{queue: queueName, msg: msg, delay: delay})
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) all() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn == nil {
		<-ctx.Done()
		return nil
	}
	return f.consumeFn(ctx, queueName, handler)
}

func (f *fakeConsumer) Close() error { return nil }

type fakeLimiter struct {
	tryConsumeFn func(ctx context.Context, scope string, unit ratelimit.Unit, limit int) ratelimit.Decision
}

func (f *fakeLimiter) TryConsume(ctx context.Context, scope string, unit ratelimit.Unit, limit int) ratelimit.Decision {
	if f.tryConsumeFn == nil {
		return ratelimit.Decision{Allowed: true}
	}
	return f.tryConsumeFn(ctx, scope, unit, limit)
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []mailer.Email
	sendFn func(ctx context.Context, email mailer.Email) error
}

func (f *fakeTransport) Send(ctx context.Context, email mailer.Email) error {
	if f.sendFn != nil {
		return f.sendFn(ctx, email)
	}
	f.mu.Lock()
	f.sent = append(f.sent, email)
	f.mu.Unlock()
	return nil
}

type fakeRenderer struct {
	renderFn func(ctx context.Context, tmpl *domain.Template, record domain.Record, verifyURL string) ([]byte, error)
}

func (f *fakeRenderer) Render(ctx context.Context, tmpl *domain.Template, record domain.Record, verifyURL string) ([]byte, error) {
	if f.renderFn == nil {
		return []byte("png-bytes"), nil
	}
	return f.renderFn(ctx, tmpl, record, verifyURL)
}

type fakeStorage struct {
	uploadFn func(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

func (f *fakeStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.uploadFn == nil {
		return "https://storage.example.com/" + key, nil
	}
	return f.uploadFn(ctx, key, data, contentType)
}

func (f *fakeStorage) Close() error { return nil }

type fakeFetcher struct {
	fetchFn func(ctx context.Context, url string) ([]byte, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.fetchFn == nil {
		return nil, fmt.Errorf("no fetch function configured")
	}
	return f.fetchFn(ctx, url)
}

func testRecords(n int) []domain.Record {
	records := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, domain.Record{
			Columns: []string{"Name", "Email"},
			Values: map[string]string{
				"Name":  fmt.Sprintf("User %d", i),
				"Email": fmt.Sprintf("user%d@example.com", i),
			},
		})
	}
	return records
}
