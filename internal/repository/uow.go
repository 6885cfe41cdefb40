package repository

import (
	"context"

	"gorm.io/gorm"
)

// UnitOfWork runs a function against transaction-bound repositories. The whole
// unit commits together or not at all.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(orgs OrganizationRepository, batches BatchRepository) error) error
}

type GormUnitOfWork struct {
	db *gorm.DB
}

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(orgs OrganizationRepository, batches BatchRepository) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormOrganizationRepo(tx), NewGormBatchRepo(tx))
	})
}
