package queue

import (
	"context"
	"errors"
	"fmt"
)

// OnboardingQueue is the dedicated lane for organization onboarding tasks.
const OnboardingQueue = "organization-onboarding"

// ErrDeadLetter tells the consumer to park the delivery on the dead-letter
// queue instead of scheduling another redelivery.
var ErrDeadLetter = errors.New("delivery exhausted its redelivery budget")

// DLQName returns the dead-letter queue name, dlq.organization-onboarding.
func DLQName() string {
	return fmt.Sprintf("dlq.%s", OnboardingQueue)
}

// RetryQueueName returns the delay queue name, retry.organization-onboarding.
// Nacked deliveries wait there before flowing back to the work queue.
func RetryQueueName() string {
	return fmt.Sprintf("retry.%s", OnboardingQueue)
}

// DedupKey returns the task key used to deduplicate work for a single
// organization, e.g. onboarding:<id>.
func DedupKey(organizationID string) string {
	return fmt.Sprintf("onboarding:%s", organizationID)
}

// Publisher publishes onboarding tasks to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg OnboardingMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg OnboardingMessage) error

// Consumer consumes onboarding tasks from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
