package onboarder

import (
	"context"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

// Onboarder is the pluggable collaborator that performs the actual onboarding
// work for one organization. The worker treats it as opaque: it either returns
// nil or an error carrying the failure message.
type Onboarder interface {
	Onboard(ctx context.Context, organization domain.Organization) error
}

// NoopOnboarder performs no work. It stands in for real onboarding logic
// (welcome emails, initial configuration, external provisioning calls).
type NoopOnboarder struct{}

func NewNoopOnboarder() *NoopOnboarder {
	return &NoopOnboarder{}
}

func (o *NoopOnboarder) Onboard(ctx context.Context, organization domain.Organization) error {
	return ctx.Err()
}
