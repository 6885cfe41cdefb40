package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/dedupe"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/onboarder"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1

	// maxOnboardAttempts bounds total attempts per organization; exhausting it
	// triggers the permanent failure handler.
	maxOnboardAttempts = 3

	// attemptTimeout is the hard cap for a single onboarding attempt.
	// Exceeding it counts as a failed attempt, not a separate error class.
	attemptTimeout = 300 * time.Second
)

// retryBackoff holds the redelivery delay per failed attempt number.
var retryBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// actionFailedError marks an attempt where the onboarding action itself
// failed, as opposed to an infrastructure error. It carries the record so the
// retry accounting does not re-read it.
type actionFailedError struct {
	org   *domain.Organization
	cause error
}

func (e *actionFailedError) Error() string { return e.cause.Error() }
func (e *actionFailedError) Unwrap() error { return e.cause }

type WorkerService struct {
	organizations repository.OrganizationRepository
	uow           repository.UnitOfWork
	consumer      queue.Consumer
	onboarder     onboarder.Onboarder
	guard         dedupe.KeyGuard
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	now           func() time.Time
}

func NewWorkerService(
	organizations repository.OrganizationRepository,
	uow repository.UnitOfWork,
	consumer queue.Consumer,
	onboardAction onboarder.Onboarder,
	guard dedupe.KeyGuard,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if uow == nil {
		return nil, fmt.Errorf("unit of work is required")
	}
	if onboardAction == nil {
		return nil, fmt.Errorf("onboarder is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("key guard is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		organizations: organizations,
		uow:           uow,
		consumer:      consumer,
		onboarder:     onboardAction,
		guard:         guard,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the onboarding queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.OnboardingQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.OnboardingQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage is the dispatcher-side wrapper around one onboarding attempt:
// it enforces the at-most-one-in-flight rule via the task key guard and runs
// the retry accounting when the attempt fails.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.OnboardingMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	if msg.BatchID != "" {
		ctx = observability.WithBatchID(ctx, msg.BatchID)
	}

	taskKey := queue.DedupKey(msg.OrganizationID)

	acquired, err := s.guard.Acquire(ctx, taskKey)
	if err != nil {
		return s.giveUpOrRedeliver(ctx, msg, fmt.Errorf("failed to acquire task guard: %w", err))
	}
	if !acquired {
		observability.WithContextLogger(s.logger, ctx).Info("onboarding task already in flight, skipping",
			zap.String("organizationId", msg.OrganizationID),
		)
		return nil
	}
	defer func() {
		if releaseErr := s.guard.Release(context.WithoutCancel(ctx), taskKey); releaseErr != nil {
			s.logger.Warn("failed to release task guard",
				zap.String("taskKey", taskKey),
				zap.Error(releaseErr),
			)
		}
	}()

	err = s.ProcessOnboarding(ctx, msg.OrganizationID)
	if err == nil {
		return nil
	}

	var failed *actionFailedError
	if !errors.As(err, &failed) {
		return s.giveUpOrRedeliver(ctx, msg, err)
	}

	return s.scheduleRetryOrFail(ctx, failed)
}

// giveUpOrRedeliver applies the delivery budget to infrastructure errors. The
// broker redelivers with a delay until the budget runs out, then the task is
// marked permanently failed and parked.
func (s *WorkerService) giveUpOrRedeliver(ctx context.Context, msg queue.OnboardingMessage, err error) error {
	if msg.Deliveries >= maxOnboardAttempts {
		s.HandlePermanentFailure(ctx, msg.OrganizationID, msg.Deliveries, err)
		return fmt.Errorf("%w: %s", queue.ErrDeadLetter, err.Error())
	}
	return err
}

// ProcessOnboarding drives one organization through the onboarding state
// machine. Re-invocation on a record that is no longer pending is a pure
// no-op, so at-least-once redelivery is safe.
func (s *WorkerService) ProcessOnboarding(ctx context.Context, organizationID string) error {
	org, err := s.organizations.GetByID(ctx, organizationID)
	if errors.Is(err, domain.ErrNotFound) {
		// The row may belong to a registration that has not committed yet.
		// Redelivery finds it once the transaction lands.
		return fmt.Errorf("organization %s not visible yet: %w", organizationID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	if org.Status != domain.StatusPending {
		s.logger.Info("onboarding skipped, organization not pending",
			zap.String("organizationId", org.ID),
			zap.String("domain", org.Domain),
			zap.String("currentStatus", org.Status.String()),
		)
		return nil
	}

	// Flip to processing before doing any work so a crash mid-attempt leaves
	// the record visibly in flight rather than falsely untouched.
	flipped, err := s.organizations.MarkProcessing(ctx, org.ID)
	if err != nil {
		return fmt.Errorf("failed to mark organization as processing: %w", err)
	}
	if !flipped {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncWorkerInFlight()
		defer s.metrics.DecWorkerInFlight()
	}

	log := observability.WithContextLogger(s.logger, ctx)
	log.Info("onboarding started",
		zap.String("organizationId", org.ID),
		zap.String("domain", org.Domain),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	start := s.now()
	onboardErr := s.onboarder.Onboard(attemptCtx, *org)
	cancel()
	if s.metrics != nil {
		s.metrics.ObserveOnboardingDuration(s.now().Sub(start))
	}

	if onboardErr == nil {
		// Completion and the batch counter commit together so a crash between
		// the two writes cannot undercount progress.
		completedAt := s.now().UTC()
		err := s.uow.Do(ctx, func(orgs repository.OrganizationRepository, batches repository.BatchRepository) error {
			if err := orgs.MarkCompleted(ctx, org.ID, completedAt); err != nil {
				return fmt.Errorf("failed to mark organization as completed: %w", err)
			}
			if org.BatchID != nil {
				if err := batches.IncrementProcessed(ctx, *org.BatchID); err != nil {
					return fmt.Errorf("failed to increment batch progress: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.IncOrganizationOnboarded()
		}

		log.Info("onboarding completed",
			zap.String("organizationId", org.ID),
			zap.String("domain", org.Domain),
		)
		return nil
	}

	if err := s.organizations.MarkFailed(ctx, org.ID, onboardErr.Error()); err != nil {
		return fmt.Errorf("failed to mark organization as failed: %w", err)
	}
	if s.metrics != nil {
		reason := "action_error"
		if errors.Is(onboardErr, context.DeadlineExceeded) {
			reason = "timeout"
		}
		s.metrics.IncOrganizationFailed(reason)
	}

	log.Error("onboarding failed",
		zap.String("organizationId", org.ID),
		zap.String("domain", org.Domain),
		zap.Error(onboardErr),
	)

	return &actionFailedError{org: org, cause: onboardErr}
}

func (s *WorkerService) scheduleRetryOrFail(ctx context.Context, failed *actionFailedError) error {
	attemptNumber := failed.org.AttemptCount + 1

	if attemptNumber >= maxOnboardAttempts {
		s.HandlePermanentFailure(ctx, failed.org.ID, attemptNumber, failed.cause)
		return nil
	}

	nextRetryAt := s.now().Add(backoffFor(attemptNumber))
	if err := s.organizations.UpdateForRetry(ctx, failed.org.ID, attemptNumber, nextRetryAt); err != nil {
		return fmt.Errorf("failed to schedule onboarding retry: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncRetryScheduled()
	}

	s.logger.Info("onboarding retry scheduled",
		zap.String("organizationId", failed.org.ID),
		zap.Int("attempt", attemptNumber),
		zap.Time("nextRetryAt", nextRetryAt),
	)

	return nil
}

// HandlePermanentFailure runs once the attempt budget is exhausted. It rewrites
// the record as failed with an attempt-count-qualified reason regardless of the
// record's current state and never touches the batch counter.
func (s *WorkerService) HandlePermanentFailure(ctx context.Context, organizationID string, attempts int, lastErr error) {
	reason := fmt.Sprintf("onboarding failed after %d attempts: %s", maxOnboardAttempts, lastErr.Error())

	if err := s.organizations.MarkFailedPermanently(ctx, organizationID, reason); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The row never committed; there is nothing to rewrite.
			s.logger.Warn("organization absent while recording permanent failure",
				zap.String("organizationId", organizationID),
			)
			return
		}
		s.logger.Error("failed to record permanent onboarding failure",
			zap.String("organizationId", organizationID),
			zap.Error(err),
		)
		return
	}

	s.logger.Error("onboarding failed permanently",
		zap.String("organizationId", organizationID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
}

func backoffFor(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	if attemptNumber > len(retryBackoff) {
		attemptNumber = len(retryBackoff)
	}
	return retryBackoff[attemptNumber-1]
}
