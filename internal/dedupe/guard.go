package dedupe

import "context"

// KeyGuard serializes work per task key so at most one worker invocation is in
// flight for a given key at a time.
type KeyGuard interface {
	// Acquire claims the key. It returns false when another holder is active.
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
