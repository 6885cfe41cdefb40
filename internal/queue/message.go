package queue

import (
	"fmt"
	"strings"
)

// OnboardingMessage is the broker payload for one onboarding task. Tasks are
// addressed by identifier only; the worker re-reads the row so the payload
// stays small and never goes stale.
type OnboardingMessage struct {
	OrganizationID string `json:"organizationId"`
	BatchID        string `json:"batchId,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`

	// Deliveries is how many times the broker has handed this task to a
	// worker, the current delivery included. Set by the consumer from broker
	// metadata, never serialized.
	Deliveries int `json:"-"`
}

func (m OnboardingMessage) Validate() error {
	if strings.TrimSpace(m.OrganizationID) == "" {
		return fmt.Errorf("organizationId is required")
	}
	return nil
}
