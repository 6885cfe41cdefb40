package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Status represents the onboarding lifecycle state of an organization.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions occur for this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Field limits for submitted organizations.
const (
	MaxNameLength         = 255
	MaxDomainLength       = 255
	MaxContactEmailLength = 255
)

// Organization is the core domain entity: a single onboarding candidate.
// Domain is the natural key, unique across all organizations.
type Organization struct {
	ID           string  `gorm:"type:uuid;primaryKey"`
	Name         string  `gorm:"type:varchar(255);not null"`
	Domain       string  `gorm:"type:varchar(255);not null;uniqueIndex"`
	ContactEmail *string `gorm:"type:varchar(255)"`
	Status       Status  `gorm:"type:varchar(20);not null;default:pending"`
	BatchID      *string `gorm:"type:uuid"`
	AttemptCount int     `gorm:"not null;default:0"`
	NextRetryAt  *time.Time
	ProcessedAt  *time.Time
	FailedReason *string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (o *Organization) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	if len(o.Name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, MaxNameLength)
	}
	if strings.TrimSpace(o.Domain) == "" {
		return fmt.Errorf("%w: organization domain is required", ErrValidation)
	}
	if len(o.Domain) > MaxDomainLength {
		return fmt.Errorf("%w: domain exceeds %d characters", ErrValidation, MaxDomainLength)
	}
	if o.ContactEmail != nil {
		email := strings.TrimSpace(*o.ContactEmail)
		if len(email) > MaxContactEmailLength {
			return fmt.Errorf("%w: contact email exceeds %d characters", ErrValidation, MaxContactEmailLength)
		}
		if _, err := mail.ParseAddress(email); err != nil {
			return fmt.Errorf("%w: contact email must be a valid email address", ErrValidation)
		}
	}
	return nil
}
