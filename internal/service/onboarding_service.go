package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"go.uber.org/zap"
)

// maxBulkSize caps a single bulk-onboard request.
const maxBulkSize = 1000

// OrganizationInput is one onboarding candidate as submitted by the caller.
type OrganizationInput struct {
	Name         string
	Domain       string
	ContactEmail *string
}

// BulkOnboardResult reports a registered batch. TotalOrganizations is the
// number of rows actually persisted, which is lower than the submitted count
// when domains collided.
type BulkOnboardResult struct {
	BatchID            string
	TotalOrganizations int
	Status             domain.BatchStatus
}

// BatchProgress is a point-in-time view of a batch and its records.
type BatchProgress struct {
	BatchID                string
	Status                 domain.BatchStatus
	TotalOrganizations     int
	ProcessedOrganizations int
	Counts                 []repository.StatusCount
}

type OnboardingService struct {
	uow           repository.UnitOfWork
	organizations repository.OrganizationRepository
	batches       repository.BatchRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
}

func NewOnboardingService(
	uow repository.UnitOfWork,
	organizations repository.OrganizationRepository,
	batches repository.BatchRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*OnboardingService, error) {
	if uow == nil {
		return nil, fmt.Errorf("unit of work is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OnboardingService{
		uow:           uow,
		organizations: organizations,
		batches:       batches,
		publisher:     publisher,
		logger:        logger,
	}, nil
}

func (s *OnboardingService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// BulkOnboard registers a batch of onboarding candidates as one atomic unit:
// batch row, deduplicated bulk insert, and one queued task per persisted row.
// Any failure rolls the whole unit back.
func (s *OnboardingService) BulkOnboard(ctx context.Context, inputs []OrganizationInput) (*BulkOnboardResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one organization is required", domain.ErrValidation)
	}
	if len(inputs) > maxBulkSize {
		return nil, fmt.Errorf("%w: maximum %d organizations allowed per request", domain.ErrValidation, maxBulkSize)
	}

	batchID := uuid.NewString()
	candidates := make([]*domain.Organization, 0, len(inputs))
	for i := range inputs {
		org, err := prepareOrganizationForCreate(inputs[i], batchID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, org)
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)

	var persisted int64
	var dispatched int
	err := s.uow.Do(ctx, func(orgs repository.OrganizationRepository, batches repository.BatchRepository) error {
		batch := &domain.Batch{
			ID:                 batchID,
			Status:             domain.BatchStatusProcessing,
			TotalOrganizations: len(inputs),
		}
		if err := batches.Create(ctx, batch); err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}

		inserted, err := orgs.BulkInsert(ctx, candidates)
		if err != nil {
			return fmt.Errorf("failed to bulk insert organizations: %w", err)
		}
		persisted = inserted

		// Tasks carry identifiers only; the worker re-reads the row. Rows that
		// lost the domain conflict never land in the batch, so re-reading the
		// batch yields exactly the persisted set.
		ids, err := orgs.GetIDsByBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to load persisted organization ids: %w", err)
		}

		for _, id := range ids {
			msg := queue.OnboardingMessage{
				OrganizationID: id,
				BatchID:        batchID,
				CorrelationID:  correlationID,
			}
			if err := s.publisher.Publish(ctx, queue.OnboardingQueue, msg); err != nil {
				return fmt.Errorf("failed to enqueue onboarding task: %w", err)
			}
		}
		dispatched = len(ids)

		if dispatched != len(inputs) {
			if err := batches.SetTotal(ctx, batchID, dispatched); err != nil {
				return fmt.Errorf("failed to set batch total: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		s.logger.Error("bulk onboarding failed, unit rolled back",
			zap.String("batchId", batchID),
			zap.Int("submitted", len(inputs)),
			zap.Error(err),
		)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncBatchCreated()
	}

	s.logger.Info("bulk onboarding batch created",
		zap.String("batchId", batchID),
		zap.Int("submitted", len(inputs)),
		zap.Int64("persisted", persisted),
		zap.Int("dispatched", dispatched),
	)

	return &BulkOnboardResult{
		BatchID:            batchID,
		TotalOrganizations: dispatched,
		Status:             domain.BatchStatusProcessing,
	}, nil
}

func (s *OnboardingService) GetBatchProgress(ctx context.Context, batchID string) (*BatchProgress, error) {
	trimmedID := strings.TrimSpace(batchID)
	if trimmedID == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, trimmedID)
	if err != nil {
		return nil, err
	}

	counts, err := s.organizations.CountByStatus(ctx, trimmedID)
	if err != nil {
		return nil, err
	}

	return &BatchProgress{
		BatchID:                batch.ID,
		Status:                 batch.Status,
		TotalOrganizations:     batch.TotalOrganizations,
		ProcessedOrganizations: batch.ProcessedOrganizations,
		Counts:                 counts,
	}, nil
}

func (s *OnboardingService) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return nil, fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	return s.organizations.GetByID(ctx, trimmedID)
}

func prepareOrganizationForCreate(input OrganizationInput, batchID string) (*domain.Organization, error) {
	org := &domain.Organization{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(input.Name),
		Domain:       strings.TrimSpace(input.Domain),
		ContactEmail: normalizeOptionalString(input.ContactEmail),
		Status:       domain.StatusPending,
		BatchID:      &batchID,
	}

	if err := org.Validate(); err != nil {
		return nil, err
	}

	return org, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
