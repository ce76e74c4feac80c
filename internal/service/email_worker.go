package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/certpipe/certpipe/internal/classify"
	"github.com/certpipe/certpipe/internal/domain"
	"github.com/certpipe/certpipe/internal/mailer"
	"github.com/certpipe/certpipe/internal/observability"
	"github.com/certpipe/certpipe/internal/queue"
	"github.com/certpipe/certpipe/internal/ratelimit"
	"github.com/certpipe/certpipe/internal/repository"
)

const (
	defaultEmailAttempts = 5
	emailRetryBase       = time.Second

	// Rate limit deferrals requeue without consuming an attempt.
	deferSecondWindow = time.Second
	deferDayWindow    = 15 * time.Minute
)

// EmailLimits are the provider-wide ceilings and per-user fallbacks applied
// before every send.
type EmailLimits struct {
	ProviderPerSecond int
	ProviderPerDay    int
	UserPerSecond     int
	UserPerDay        int
}

// EmailWorker consumes composed send jobs. Before each send it checks the
// suppression list and both rate limit scopes; a limit denial defers the
// message without consuming a retry attempt. Send errors are classified:
// network, system and unknown errors retry with backoff, compliance and
// validation errors fail permanently. Compliance failures also feed the
// suppression list.
type EmailWorker struct {
	consumer     queue.Consumer
	publisher    queue.Publisher
	accounts     repository.AccountRepository
	suppressions repository.SuppressionRepository
	failures     repository.FailureRepository
	limiter      ratelimit.Limiter
	throttle     *rate.Limiter
	composer     *mailer.Composer
	transport    mailer.Transport
	logger       *zap.Logger
	metrics      *observability.Metrics

	limits       EmailLimits
	defaultFrom  string
	supportEmail string
	concurrency  int
	maxAttempts  int
	now          func() time.Time
}

func NewEmailWorker(
	consumer queue.Consumer,
	publisher queue.Publisher,
	accounts repository.AccountRepository,
	suppressions repository.SuppressionRepository,
	failures repository.FailureRepository,
	limiter ratelimit.Limiter,
	composer *mailer.Composer,
	transport mailer.Transport,
	limits EmailLimits,
	defaultFrom string,
	supportEmail string,
	concurrency int,
	maxAttempts int,
	logger *zap.Logger,
) (*EmailWorker, error) {
	if consumer == nil || publisher == nil {
		return nil, fmt.Errorf("queue consumer and publisher are required")
	}
	if accounts == nil || suppressions == nil || failures == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if composer == nil {
		return nil, fmt.Errorf("composer is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if concurrency < minConcurrency {
		concurrency = minConcurrency
	}
	if maxAttempts < 1 {
		maxAttempts = defaultEmailAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// The Redis limiter fails open, so the process carries its own gate at
	// the provider's per-second ceiling. Even with Redis down, dispatch
	// never exceeds it.
	var throttle *rate.Limiter
	if limits.ProviderPerSecond > 0 {
		throttle = rate.NewLimiter(rate.Limit(limits.ProviderPerSecond), limits.ProviderPerSecond)
	}

	return &EmailWorker{
		consumer:     consumer,
		publisher:    publisher,
		accounts:     accounts,
		suppressions: suppressions,
		failures:     failures,
		limiter:      limiter,
		throttle:     throttle,
		composer:     composer,
		transport:    transport,
		limits:       limits,
		defaultFrom:  defaultFrom,
		supportEmail: supportEmail,
		concurrency:  concurrency,
		maxAttempts:  maxAttempts,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (w *EmailWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the email queue until context cancellation.
func (w *EmailWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.logger.Info("email worker started", zap.Int("workerId", workerID))
			err := w.consumer.Consume(groupCtx, queue.EmailQueue, w.handleEmail)
			if err != nil {
				w.logger.Error("email worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}
			w.logger.Info("email worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}
	return g.Wait()
}

func (w *EmailWorker) handleEmail(ctx context.Context, body []byte) error {
	var msg queue.EmailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.logger.Warn("dropping email message: unmarshal failed", zap.Error(err))
		return nil
	}
	if err := msg.Validate(); err != nil {
		w.logger.Warn("dropping email message: validation failed", zap.Error(err))
		return nil
	}

	logger := w.logger.With(
		zap.String("batchId", msg.BatchID),
		zap.String("certificateId", msg.CertificateID),
		zap.Int("attempt", msg.Attempt),
	)
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	if w.metrics != nil {
		w.metrics.IncWorkerInFlight(queue.EmailQueue)
		defer w.metrics.DecWorkerInFlight(queue.EmailQueue)
	}

	if !domain.IsValidEmail(msg.Recipient) {
		w.failPermanently(ctx, msg, "invalid recipient address", logger)
		return nil
	}

	suppressed, err := w.suppressions.IsSuppressed(ctx, msg.Recipient)
	if err != nil {
		// Fail open: a broken suppression store must not halt sending.
		logger.Warn("suppression check failed, continuing", zap.Error(err))
	} else if suppressed {
		if w.metrics != nil {
			w.metrics.IncEmailSuppressed()
		}
		logger.Info("recipient suppressed, skipping send")
		return nil
	}

	userPerSec, userPerDay := w.limits.UserPerSecond, w.limits.UserPerDay
	account, err := w.accounts.GetByID(ctx, msg.OwnerID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("account lookup failed, using default limits", zap.Error(err))
		}
	} else {
		if account.EmailsPerSecond > 0 {
			userPerSec = account.EmailsPerSecond
		}
		if account.EmailsPerDay > 0 {
			userPerDay = account.EmailsPerDay
		}
	}

	deferred, err := w.checkLimits(ctx, msg, userPerSec, userPerDay, logger)
	if err != nil {
		return err
	}
	if deferred {
		return nil
	}

	email, err := w.compose(ctx, msg)
	if err != nil {
		w.failPermanently(ctx, msg, fmt.Sprintf("failed to compose email: %v", err), logger)
		return nil
	}

	if w.throttle != nil {
		if err := w.throttle.Wait(ctx); err != nil {
			return fmt.Errorf("provider throttle wait: %w", err)
		}
	}

	start := w.now()
	sendErr := w.transport.Send(ctx, email)
	if w.metrics != nil {
		w.metrics.ObserveEmailSendDuration(w.now().Sub(start))
	}

	if sendErr == nil {
		if w.metrics != nil {
			w.metrics.IncEmailSent()
		}
		logger.Info("email sent", zap.String("recipient", msg.Recipient))
		return nil
	}

	return w.handleSendError(ctx, msg, sendErr, logger)
}

// checkLimits consumes both rate limit scopes. A denial defers the message
// and reports true; deferrals keep the attempt count unchanged. When the
// deferral itself cannot be published, the error surfaces so the broker
// redelivers instead of the send proceeding over the limit.
func (w *EmailWorker) checkLimits(
	ctx context.Context,
	msg queue.EmailMessage,
	userPerSec, userPerDay int,
	logger *zap.Logger,
) (bool, error) {
	type check struct {
		scope     string
		scopeKind string
		unit      ratelimit.Unit
		limit     int
		delay     time.Duration
	}

	userScope := ratelimit.UserScope(msg.OwnerID)
	checks := []check{
		{userScope, "user", ratelimit.UnitSecond, userPerSec, deferSecondWindow},
		{userScope, "user", ratelimit.UnitDay, userPerDay, deferDayWindow},
		{ratelimit.ProviderScope, "provider", ratelimit.UnitSecond, w.limits.ProviderPerSecond, deferSecondWindow},
		{ratelimit.ProviderScope, "provider", ratelimit.UnitDay, w.limits.ProviderPerDay, deferDayWindow},
	}

	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		decision := w.limiter.TryConsume(ctx, c.scope, c.unit, c.limit)
		if decision.Allowed {
			continue
		}
		if w.metrics != nil {
			w.metrics.IncRateLimitDenied(c.scopeKind, c.unit.String())
		}
		if err := w.publisher.PublishWithDelay(ctx, queue.EmailQueue, msg, c.delay); err != nil {
			logger.Error("failed to defer rate-limited email", zap.Error(err))
			return false, fmt.Errorf("failed to defer rate-limited email: %w", err)
		}
		logger.Info("send deferred by rate limit",
			zap.String("scope", c.scopeKind),
			zap.String("unit", c.unit.String()),
			zap.String("reason", decision.Reason),
			zap.Duration("delay", c.delay),
		)
		return true, nil
	}
	return false, nil
}

func (w *EmailWorker) compose(ctx context.Context, msg queue.EmailMessage) (mailer.Email, error) {
	in := mailer.ComposeInput{
		Recipient:    msg.Recipient,
		Record:       msg.Record,
		Subject:      msg.Subject,
		Message:      msg.Body,
		From:         msg.EmailFrom,
		CC:           msg.CC,
		BCC:          msg.BCC,
		ImageURL:     msg.ImageURL,
		PublicID:     msg.PublicID,
		BatchID:      msg.BatchID,
		SupportEmail: w.supportEmail,
	}

	cfg, err := w.accounts.GetSendConfig(ctx, msg.OwnerID)
	if err == nil {
		if in.Subject == "" {
			in.Subject = cfg.Subject
		}
		if in.Message == "" {
			in.Message = cfg.Message
		}
		if in.From == "" {
			in.From = cfg.FromAddress
		}
		in.Heading = cfg.Heading
		in.SenderName = cfg.SenderName
		if cfg.SupportEmail != "" {
			in.SupportEmail = cfg.SupportEmail
		}
	}
	if in.From == "" {
		in.From = w.defaultFrom
	}

	return w.composer.Compose(in)
}

func (w *EmailWorker) handleSendError(
	ctx context.Context,
	msg queue.EmailMessage,
	sendErr error,
	logger *zap.Logger,
) error {
	classification := classify.Classify(sendErr.Error())

	transient := classification.Category == classify.CategoryNetwork ||
		classification.Category == classify.CategorySystem ||
		classification.Category == classify.CategoryUnknown

	if transient && msg.Attempt < w.maxAttempts {
		retry := msg
		retry.Attempt++
		delay := queue.RetryDelay(emailRetryBase, msg.Attempt)
		if err := w.publisher.PublishWithDelay(ctx, queue.EmailQueue, retry, delay); err != nil {
			logger.Error("failed to schedule email retry", zap.Error(err))
			return fmt.Errorf("failed to schedule email retry: %w", err)
		}
		if w.metrics != nil {
			w.metrics.IncRetryScheduled(queue.EmailQueue)
		}
		logger.Warn("email retry scheduled",
			zap.String("category", classification.Category.String()),
			zap.Duration("delay", delay),
			zap.Error(sendErr),
		)
		return nil
	}

	if classification.Category == classify.CategoryCompliance {
		reason := domain.SuppressionBounce
		if matchesComplaint(sendErr.Error()) {
			reason = domain.SuppressionComplaint
		}
		if err := w.suppressions.Upsert(ctx, &domain.SuppressionEntry{
			Email:  msg.Recipient,
			Reason: reason,
			Source: "send_failure",
		}); err != nil {
			logger.Warn("failed to record suppression", zap.Error(err))
		}
	}

	w.failWithCategory(ctx, msg, sendErr.Error(), classification.Category.String(), logger)
	return nil
}

func (w *EmailWorker) failPermanently(ctx context.Context, msg queue.EmailMessage, reason string, logger *zap.Logger) {
	w.failWithCategory(ctx, msg, reason, classify.Classify(reason).Category.String(), logger)
}

func (w *EmailWorker) failWithCategory(
	ctx context.Context,
	msg queue.EmailMessage,
	reason, category string,
	logger *zap.Logger,
) {
	if w.metrics != nil {
		w.metrics.IncEmailFailed(category)
	}
	if err := w.failures.CreateFailed(ctx, &domain.FailedRecord{
		BatchID: msg.BatchID,
		Data:    msg.Record,
		Error:   reason,
	}); err != nil {
		logger.Error("failed to record send failure",
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	logger.Warn("email failed permanently",
		zap.String("recipient", msg.Recipient),
		zap.String("category", category),
		zap.String("reason", reason),
	)
}

func matchesComplaint(message string) bool {
	return strings.Contains(strings.ToLower(message), "complaint")
}
