package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically re-enqueues onboarding tasks whose retry delay has
// elapsed. It is the redelivery mechanism behind the backoff schedule.
type RetryScanner struct {
	organizations repository.OrganizationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	interval      time.Duration
	limit         int
}

func NewRetryScanner(
	organizations repository.OrganizationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if organizations == nil {
		return nil, fmt.Errorf("organization repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		organizations: organizations,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	dueOrganizations, err := s.organizations.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range dueOrganizations {
		org := dueOrganizations[i]
		msg := queue.OnboardingMessage{
			OrganizationID: org.ID,
		}
		if org.BatchID != nil {
			msg.BatchID = *org.BatchID
		}

		if err := s.publisher.Publish(ctx, queue.OnboardingQueue, msg); err != nil {
			s.logger.Error("failed to re-enqueue onboarding task",
				zap.String("organizationId", org.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.organizations.ClearNextRetryAt(ctx, org.ID); err != nil {
			s.logger.Error("failed to clear next retry timestamp after enqueue",
				zap.String("organizationId", org.ID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
