package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.Rate() != 10 {
		t.Errorf("rate = %v, want 10", rl.Rate())
	}
	if rl.Burst() != 20 {
		t.Errorf("burst = %v, want 20", rl.Burst())
	}

	rl = NewRateLimiter(10, 5)
	if rl.Burst() != 10 {
		t.Errorf("burst below rate should be raised to rate, got %d", rl.Burst())
	}
}

func TestRateLimiter_AllowBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d should pass within burst", i)
		}
	}
	if rl.Allow() {
		t.Error("request beyond burst should be rejected")
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	rl.Allow() // опустошаем ведро

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should fail when the token cannot arrive before deadline")
	}
}

func TestMultiLimiter(t *testing.T) {
	ml := NewMultiLimiter()
	ml.Add("trade", 1, 1)

	if !ml.Allow("trade") {
		t.Fatal("first trade request should pass")
	}
	if ml.Allow("trade") {
		t.Error("second trade request should be limited")
	}
	if !ml.Allow("market") {
		t.Error("category without limiter must always pass")
	}
	if err := ml.Wait(context.Background(), "market"); err != nil {
		t.Errorf("Wait on unknown category: %v", err)
	}
}
