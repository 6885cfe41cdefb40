package domain

import "time"

// BatchStatus represents the processing state of a batch.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusProcessing, BatchStatusCompleted:
		return true
	}
	return false
}

// Batch tracks how many organizations were submitted together and how many
// have reached the completed terminal state.
type Batch struct {
	ID                     string      `gorm:"type:uuid;primaryKey"`
	Status                 BatchStatus `gorm:"type:varchar(20);not null"`
	TotalOrganizations     int         `gorm:"not null"`
	ProcessedOrganizations int         `gorm:"not null;default:0"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
