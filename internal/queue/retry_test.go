package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCalculateNextRetry_ReminderDefaults(t *testing.T) {
	// exponential, base 5s, cap 10m
	policy := PolicyFor(&Job{MaxAttempts: 3, Backoff: Backoff{Type: BackoffExponential, Delay: 5 * time.Second, Max: 10 * time.Minute}})
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 5 * time.Second},    // 5s * 2^0
		{1, 10 * time.Second},   // 5s * 2^1
		{2, 20 * time.Second},   // 5s * 2^2
		{7, 10 * time.Minute},   // 640s, capped at 600s
		{200, 10 * time.Minute}, // no overflow
	}

	for _, tt := range tests {
		d := CalculateNextRetry(policy, tt.attempt)
		if d != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, d)
		}
	}
}

func TestCalculateNextRetry_Fixed(t *testing.T) {
	policy := PolicyFor(&Job{Backoff: Backoff{Type: BackoffFixed, Delay: 3 * time.Second}})
	for attempt := 0; attempt < 5; attempt++ {
		if d := CalculateNextRetry(policy, attempt); d != 3*time.Second {
			t.Errorf("attempt %d: expected 3s, got %v", attempt, d)
		}
	}
}

func TestCalculateNextRetry_NegativeAttempt(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	if d := CalculateNextRetry(policy, -1); d != time.Second {
		t.Errorf("expected 1s for negative attempt, got %v", d)
	}
}

func TestPolicyFor_DefaultCap(t *testing.T) {
	p := PolicyFor(&Job{Backoff: Backoff{Delay: time.Second}})
	if p.MaxDelay != DefaultMaxRetryDelay {
		t.Errorf("MaxDelay = %v, want %v", p.MaxDelay, DefaultMaxRetryDelay)
	}
	if p.BackoffFactor != 2 {
		t.Errorf("empty backoff type should be exponential, factor = %v", p.BackoffFactor)
	}
}

func TestExhausted(t *testing.T) {
	tests := []struct {
		attempt, max int
		want         bool
	}{
		{0, 3, false},
		{1, 3, false},
		{2, 3, true},
		{0, 1, true},
	}
	for _, tt := range tests {
		if got := Exhausted(&Job{Attempt: tt.attempt, MaxAttempts: tt.max}); got != tt.want {
			t.Errorf("Exhausted(attempt=%d, max=%d) = %v, want %v", tt.attempt, tt.max, got, tt.want)
		}
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := fmt.Errorf("consume: %w", Permanent(base))

	if !IsPermanent(err) {
		t.Error("wrapped permanent error not detected")
	}
	if !errors.Is(err, base) {
		t.Error("Permanent must preserve the error chain")
	}
	if IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}
