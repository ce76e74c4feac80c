package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/certpipe/certpipe/internal/artifact"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/observability"
	"github.com/certpipe/certpipe/internal/queue"
	"github.com/certpipe/certpipe/internal/repository"
	"github.com/certpipe/certpipe/internal/storage"
)

const (
	minConcurrency       = 1
	defaultChunkAttempts = 3
	chunkRetryBase       = time.Second
)

// CertificateWorker consumes generation chunks. Records inside a chunk are
// processed concurrently; a record failure is isolated as a failed-record
// row and never fails the chunk. Only chunk-level infrastructure failures
// (template lookup) trigger a delayed chunk retry, and when the retry
// budget runs out every record in the chunk is written off as failed so
// the batch can still finish.
type CertificateWorker struct {
	consumer     queue.Consumer
	publisher    queue.Publisher
	templates    repository.TemplateRepository
	certificates repository.CertificateRepository
	failures     repository.FailureRepository
	batches      repository.BatchRepository
	renderer     artifact.Renderer
	store        storage.Storage
	logger       *zap.Logger
	metrics      *observability.Metrics

	baseURL           string
	recordConcurrency int
	chunkConcurrency  int
	maxAttempts       int
	now               func() time.Time
}

func NewCertificateWorker(
	consumer queue.Consumer,
	publisher queue.Publisher,
	templates repository.TemplateRepository,
	certificates repository.CertificateRepository,
	failures repository.FailureRepository,
	batches repository.BatchRepository,
	renderer artifact.Renderer,
	store storage.Storage,
	baseURL string,
	recordConcurrency int,
	chunkConcurrency int,
	maxAttempts int,
	logger *zap.Logger,
) (*CertificateWorker, error) {
	if consumer == nil || publisher == nil {
		return nil, fmt.Errorf("queue consumer and publisher are required")
	}
	if templates == nil || certificates == nil || failures == nil || batches == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if recordConcurrency < minConcurrency {
		recordConcurrency = minConcurrency
	}
	if chunkConcurrency < minConcurrency {
		chunkConcurrency = minConcurrency
	}
	if maxAttempts < 1 {
		maxAttempts = defaultChunkAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CertificateWorker{
		consumer:          consumer,
		publisher:         publisher,
		templates:         templates,
		certificates:      certificates,
		failures:          failures,
		batches:           batches,
		renderer:          renderer,
		store:             store,
		baseURL:           baseURL,
		recordConcurrency: recordConcurrency,
		chunkConcurrency:  chunkConcurrency,
		maxAttempts:       maxAttempts,
		logger:            logger,
		now:               time.Now,
	}, nil
}

func (w *CertificateWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the chunk queue until context cancellation.
func (w *CertificateWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.chunkConcurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.logger.Info("generation worker started", zap.Int("workerId", workerID))
			err := w.consumer.Consume(groupCtx, queue.ChunkQueue, w.handleChunk)
			if err != nil {
				w.logger.Error("generation worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}
			w.logger.Info("generation worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}
	return g.Wait()
}

func (w *CertificateWorker) handleChunk(ctx context.Context, body []byte) error {
	var msg queue.ChunkMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.logger.Warn("dropping chunk message: unmarshal failed", zap.Error(err))
		return nil
	}
	if err := msg.Validate(); err != nil {
		w.logger.Warn("dropping chunk message: validation failed", zap.Error(err))
		return nil
	}

	logger := w.logger.With(
		zap.String("batchId", msg.BatchID),
		zap.Int("chunkIndex", msg.ChunkIndex),
		zap.Int("attempt", msg.Attempt),
	)
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	if w.metrics != nil {
		w.metrics.IncWorkerInFlight(queue.ChunkQueue)
		defer w.metrics.DecWorkerInFlight(queue.ChunkQueue)
	}

	if msg.RecordsDone {
		if err := w.batches.CompleteChunk(ctx, msg.BatchID); err != nil {
			return w.retryCompletion(ctx, msg, logger, fmt.Errorf("failed to mark chunk complete: %w", err))
		}
		logger.Info("chunk completion recovered")
		return nil
	}

	start := w.now()

	tmpl, err := w.templates.GetByID(ctx, msg.TemplateID)
	if err != nil {
		return w.retryChunk(ctx, msg, logger, fmt.Errorf("template lookup failed: %w", err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.recordConcurrency)
	for _, record := range msg.Records {
		record := record
		g.Go(func() error {
			w.processRecord(groupCtx, msg, tmpl, record, logger)
			return nil
		})
	}
	_ = g.Wait()

	if err := w.batches.CompleteChunk(ctx, msg.BatchID); err != nil {
		return w.retryCompletion(ctx, msg, logger, fmt.Errorf("failed to mark chunk complete: %w", err))
	}

	if w.metrics != nil {
		w.metrics.ObserveChunkDuration(w.now().Sub(start))
	}

	logger.Info("chunk processed", zap.Int("records", len(msg.Records)))
	return nil
}

func (w *CertificateWorker) processRecord(
	ctx context.Context,
	msg queue.ChunkMessage,
	tmpl *domain.Template,
	record domain.Record,
	logger *zap.Logger,
) {
	email, _ := record.Email()
	if !domain.IsValidEmail(email) {
		if err := w.failures.CreateInvalid(ctx, &domain.InvalidRecipient{
			BatchID: msg.BatchID,
			Email:   email,
			Reason:  "invalid email address",
		}); err != nil {
			logger.Error("failed to record invalid recipient", zap.Error(err))
		}
		return
	}

	cert := &domain.Certificate{
		BatchID:    msg.BatchID,
		TemplateID: msg.TemplateID,
		OwnerID:    msg.OwnerID,
		Data:       record,
	}
	if err := w.certificates.Create(ctx, cert); err != nil {
		w.recordFailure(ctx, msg.BatchID, record, fmt.Errorf("failed to persist certificate: %w", err), logger)
		return
	}

	verifyURL := fmt.Sprintf("%s/v1/validate/%s", w.baseURL, cert.PublicID)
	rendered, err := w.renderer.Render(ctx, tmpl, record, verifyURL)
	if err != nil {
		w.discardCertificate(ctx, cert.ID, logger)
		w.recordFailure(ctx, msg.BatchID, record, fmt.Errorf("failed to render certificate: %w", err), logger)
		return
	}

	key := fmt.Sprintf("certificates/%s.png", cert.ID)
	url, err := w.store.Upload(ctx, key, rendered, "image/png")
	if err != nil {
		w.discardCertificate(ctx, cert.ID, logger)
		w.recordFailure(ctx, msg.BatchID, record, fmt.Errorf("failed to upload certificate: %w", err), logger)
		return
	}

	if err := w.certificates.SetImageURL(ctx, cert.ID, url); err != nil {
		w.discardCertificate(ctx, cert.ID, logger)
		w.recordFailure(ctx, msg.BatchID, record, fmt.Errorf("failed to store certificate url: %w", err), logger)
		return
	}

	if w.metrics != nil {
		w.metrics.IncCertificateGenerated()
	}

	emailMsg := queue.EmailMessage{
		BatchID:       msg.BatchID,
		OwnerID:       msg.OwnerID,
		CertificateID: cert.ID,
		PublicID:      cert.PublicID,
		Recipient:     email,
		Record:        record,
		Subject:       msg.Subject,
		Body:          msg.Body,
		EmailFrom:     msg.EmailFrom,
		CC:            msg.CC,
		BCC:           msg.BCC,
		ImageURL:      url,
		Attempt:       1,
		CorrelationID: msg.CorrelationID,
	}
	if err := w.publisher.Publish(ctx, queue.EmailQueue, emailMsg); err != nil {
		w.recordFailure(ctx, msg.BatchID, record, fmt.Errorf("failed to enqueue email: %w", err), logger)
	}
}

// discardCertificate removes a row created for an artifact that never made
// it to storage. A failed record must not count as a generated certificate,
// and its template must not anchor a resend.
func (w *CertificateWorker) discardCertificate(ctx context.Context, certID string, logger *zap.Logger) {
	if err := w.certificates.Delete(ctx, certID); err != nil {
		logger.Warn("failed to discard orphaned certificate",
			zap.String("certificateId", certID),
			zap.Error(err),
		)
	}
}

func (w *CertificateWorker) recordFailure(
	ctx context.Context,
	batchID string,
	record domain.Record,
	cause error,
	logger *zap.Logger,
) {
	if w.metrics != nil {
		w.metrics.IncCertificateFailed()
	}
	if err := w.failures.CreateFailed(ctx, &domain.FailedRecord{
		BatchID: batchID,
		Data:    record,
		Error:   cause.Error(),
	}); err != nil {
		logger.Error("failed to record generation failure",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	logger.Warn("record failed", zap.Error(cause))
}

// retryChunk republishes the chunk with a delay, or writes off all its
// records once the attempt budget is exhausted.
func (w *CertificateWorker) retryChunk(
	ctx context.Context,
	msg queue.ChunkMessage,
	logger *zap.Logger,
	cause error,
) error {
	if msg.Attempt < w.maxAttempts {
		retry := msg
		retry.Attempt++
		delay := queue.RetryDelay(chunkRetryBase, msg.Attempt)
		if err := w.publisher.PublishWithDelay(ctx, queue.ChunkQueue, retry, delay); err != nil {
			logger.Error("failed to schedule chunk retry", zap.Error(err))
			return fmt.Errorf("failed to schedule chunk retry: %w", err)
		}
		if w.metrics != nil {
			w.metrics.IncRetryScheduled(queue.ChunkQueue)
		}
		logger.Warn("chunk retry scheduled",
			zap.Duration("delay", delay),
			zap.NamedError("cause", cause),
		)
		return nil
	}

	logger.Error("chunk retries exhausted, failing all records", zap.NamedError("cause", cause))
	for _, record := range msg.Records {
		w.recordFailure(ctx, msg.BatchID, record, fmt.Errorf("chunk processing failed: %w", cause), logger)
	}

	if err := w.batches.CompleteChunk(ctx, msg.BatchID); err != nil {
		return w.retryCompletion(ctx, msg, logger, fmt.Errorf("failed to mark exhausted chunk complete: %w", err))
	}
	return nil
}

// retryCompletion defers the completion counter write when the database is
// unavailable after the chunk's records were already handled. The completion
// stage gets its own attempt budget; re-running the records would duplicate
// sends.
func (w *CertificateWorker) retryCompletion(
	ctx context.Context,
	msg queue.ChunkMessage,
	logger *zap.Logger,
	cause error,
) error {
	retry := msg
	if retry.RecordsDone {
		if msg.Attempt >= w.maxAttempts {
			logger.Error("chunk completion retries exhausted", zap.NamedError("cause", cause))
			return cause
		}
		retry.Attempt++
	} else {
		retry.RecordsDone = true
		retry.Attempt = 1
	}

	delay := queue.RetryDelay(chunkRetryBase, retry.Attempt)
	if err := w.publisher.PublishWithDelay(ctx, queue.ChunkQueue, retry, delay); err != nil {
		logger.Error("failed to schedule chunk completion retry", zap.Error(err))
		return fmt.Errorf("failed to schedule chunk completion retry: %w", err)
	}
	if w.metrics != nil {
		w.metrics.IncRetryScheduled(queue.ChunkQueue)
	}
	logger.Warn("chunk completion retry scheduled",
		zap.Duration("delay", delay),
		zap.NamedError("cause", cause),
	)
	return nil
}
