package api

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiterPerOwner(t *testing.T) {
	l := NewLimiter(2)
	if !l.Allow("alice") || !l.Allow("alice") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if l.Allow("alice") {
		t.Fatal("expected third request to be limited")
	}
	if !l.Allow("bob") {
		t.Fatal("expected other owners to have their own bucket")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Allow("alice") {
			t.Fatal("expected disabled limiter to allow everything")
		}
	}
}

func TestLimiterSweepsIdleOwners(t *testing.T) {
	l := NewLimiter(5)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("user-%d", i))
	}
	if got := l.Len(); got != 50 {
		t.Fatalf("expected 50 buckets, got %d", got)
	}

	now = now.Add(limiterIdleTTL / 2)
	l.Allow("user-0")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.Allow("fresh")
	if got := l.Len(); got != 2 {
		t.Fatalf("expected idle buckets to be swept leaving 2, got %d", got)
	}
}
