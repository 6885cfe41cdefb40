package repository

import (
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

// OrganizationModel is the persistence model for the organizations table.
type OrganizationModel struct {
	ID           string        `gorm:"type:uuid;primaryKey"`
	Name         string        `gorm:"type:varchar(255);not null"`
	Domain       string        `gorm:"type:varchar(255);not null"`
	ContactEmail *string       `gorm:"type:varchar(255)"`
	Status       domain.Status `gorm:"type:varchar(20);not null;default:pending"`
	BatchID      *string       `gorm:"type:uuid"`
	AttemptCount int           `gorm:"not null;default:0"`
	NextRetryAt  *time.Time
	ProcessedAt  *time.Time
	FailedReason *string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (OrganizationModel) TableName() string {
	return "organizations"
}

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID                     string             `gorm:"type:uuid;primaryKey"`
	Status                 domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalOrganizations     int                `gorm:"not null"`
	ProcessedOrganizations int                `gorm:"not null;default:0"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

func organizationModelFromDomain(o *domain.Organization) *OrganizationModel {
	if o == nil {
		return nil
	}

	return &OrganizationModel{
		ID:           o.ID,
		Name:         o.Name,
		Domain:       o.Domain,
		ContactEmail: o.ContactEmail,
		Status:       o.Status,
		BatchID:      o.BatchID,
		AttemptCount: o.AttemptCount,
		NextRetryAt:  o.NextRetryAt,
		ProcessedAt:  o.ProcessedAt,
		FailedReason: o.FailedReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func organizationModelToDomain(m *OrganizationModel) *domain.Organization {
	if m == nil {
		return nil
	}

	return &domain.Organization{
		ID:           m.ID,
		Name:         m.Name,
		Domain:       m.Domain,
		ContactEmail: m.ContactEmail,
		Status:       m.Status,
		BatchID:      m.BatchID,
		AttemptCount: m.AttemptCount,
		NextRetryAt:  m.NextRetryAt,
		ProcessedAt:  m.ProcessedAt,
		FailedReason: m.FailedReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:                     b.ID,
		Status:                 b.Status,
		TotalOrganizations:     b.TotalOrganizations,
		ProcessedOrganizations: b.ProcessedOrganizations,
		CreatedAt:              b.CreatedAt,
		UpdatedAt:              b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:                     m.ID,
		Status:                 m.Status,
		TotalOrganizations:     m.TotalOrganizations,
		ProcessedOrganizations: m.ProcessedOrganizations,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}
