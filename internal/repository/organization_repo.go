package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// bulkInsertChunkSize bounds statement size on bulk insert; it has no effect
// on semantics since all chunks run inside the caller's transaction.
const bulkInsertChunkSize = 500

// StatusCount is a per-status record count for a batch.
type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int           `gorm:"column:count"`
}

type OrganizationRepository interface {
	// BulkInsert persists candidates in chunks, silently skipping rows whose
	// domain collides with an existing organization (or with an earlier row in
	// the same statement). Returns the number of rows actually persisted.
	BulkInsert(ctx context.Context, organizations []*domain.Organization) (int64, error)
	GetByID(ctx context.Context, id string) (*domain.Organization, error)
	GetIDsByBatch(ctx context.Context, batchID string) ([]string, error)
	// MarkProcessing flips pending to processing. Returns false when the row is
	// no longer pending, so the caller can treat the invocation as a no-op.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string, processedAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// MarkFailedPermanently rewrites status and reason regardless of the row's
	// current state and clears any scheduled retry.
	MarkFailedPermanently(ctx context.Context, id string, reason string) error
	UpdateForRetry(ctx context.Context, id string, attemptCount int, nextRetryAt time.Time) error
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Organization, error)
	ClearNextRetryAt(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, batchID string) ([]StatusCount, error)
}

type GormOrganizationRepo struct {
	db *gorm.DB
}

func NewGormOrganizationRepo(db *gorm.DB) *GormOrganizationRepo {
	return &GormOrganizationRepo{db: db}
}

func (r *GormOrganizationRepo) BulkInsert(ctx context.Context, organizations []*domain.Organization) (int64, error) {
	models := make([]OrganizationModel, 0, len(organizations))
	for _, o := range organizations {
		if model := organizationModelFromDomain(o); model != nil {
			models = append(models, *model)
		}
	}

	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "domain"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, bulkInsertChunkSize)
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

func (r *GormOrganizationRepo) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	var model OrganizationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return organizationModelToDomain(&model), nil
}

func (r *GormOrganizationRepo) GetIDsByBatch(ctx context.Context, batchID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormOrganizationRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("status", domain.StatusProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormOrganizationRepo) MarkCompleted(ctx context.Context, id string, processedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusCompleted,
			"processed_at":  processedAt,
			"failed_reason": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOrganizationRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"failed_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOrganizationRepo) MarkFailedPermanently(ctx context.Context, id string, reason string) error {
	return r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"failed_reason": reason,
			"next_retry_at": nil,
		}).Error
}

func (r *GormOrganizationRepo) UpdateForRetry(ctx context.Context, id string, attemptCount int, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count": attemptCount,
			"next_retry_at": nextRetryAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOrganizationRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Organization, error) {
	var models []OrganizationModel
	err := r.db.WithContext(ctx).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	organizations := make([]domain.Organization, 0, len(models))
	for i := range models {
		organizations = append(organizations, *organizationModelToDomain(&models[i]))
	}

	return organizations, nil
}

func (r *GormOrganizationRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Where("id = ?", id).
		Update("next_retry_at", nil).Error
}

func (r *GormOrganizationRepo) CountByStatus(ctx context.Context, batchID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&OrganizationModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
