package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisKeyGuardAcquireRelease(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	guard, err := NewRedisKeyGuard(rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisKeyGuard() error = %v", err)
	}

	acquired, err := guard.Acquire(context.Background(), "onboarding:org-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("first acquire should succeed")
	}

	acquired, err = guard.Acquire(context.Background(), "onboarding:org-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if acquired {
		t.Fatal("second acquire on the same key should be rejected")
	}

	if err := guard.Release(context.Background(), "onboarding:org-1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	acquired, err = guard.Acquire(context.Background(), "onboarding:org-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("acquire after release should succeed")
	}
}

func TestRedisKeyGuardIndependentKeys(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	guard, err := NewRedisKeyGuard(rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisKeyGuard() error = %v", err)
	}

	acquired, err := guard.Acquire(context.Background(), "onboarding:org-1")
	if err != nil {
		t.Fatalf("Acquire(org-1) error = %v", err)
	}
	if !acquired {
		t.Fatal("org-1 should be acquirable")
	}

	acquired, err = guard.Acquire(context.Background(), "onboarding:org-2")
	if err != nil {
		t.Fatalf("Acquire(org-2) error = %v", err)
	}
	if !acquired {
		t.Fatal("org-2 should be acquirable while org-1 is held")
	}
}

func TestRedisKeyGuardTTLExpiry(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	guard, err := NewRedisKeyGuard(rdb, time.Second)
	if err != nil {
		t.Fatalf("NewRedisKeyGuard() error = %v", err)
	}

	acquired, err := guard.Acquire(context.Background(), "onboarding:org-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("first acquire should succeed")
	}

	mr.FastForward(2 * time.Second)

	acquired, err = guard.Acquire(context.Background(), "onboarding:org-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("acquire should succeed after the guard TTL expires")
	}
}

func TestRedisKeyGuardValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisKeyGuard(nil, time.Minute); err == nil {
		t.Fatal("NewRedisKeyGuard() expected error for nil client")
	}

	guard, err := NewRedisKeyGuard(newTestRedisClient(t), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisKeyGuard() error = %v", err)
	}

	if _, err := guard.Acquire(context.Background(), "  "); err == nil {
		t.Fatal("Acquire() expected error for blank key")
	}
	if err := guard.Release(context.Background(), ""); err == nil {
		t.Fatal("Release() expected error for blank key")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
