package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"polymarket-mm/pkg/clobtypes"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker("test", 3, time.Minute)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = b.Call(failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after 3 failures, got %v", b.State())
	}

	err := b.Call(func() error { return nil })
	if !clobtypes.Is(err, clobtypes.KindCircuitOpen) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	b := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	_ = b.Call(func() error { return errors.New("boom") })
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	err := b.Call(func() error { return nil })
	if err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after successful probe, got %v", b.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	_ = b.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := b.Call(func() error { return errors.New("still broken") })
	if err == nil {
		t.Fatal("expected failure")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after half-open failure, got %v", b.State())
	}
}

func TestStrategyRetriesTransientErrors(t *testing.T) {
	attempts := 0
	s := Strategy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := s.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return clobtypes.New(clobtypes.KindTransientAPI, "temporary", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestStrategyNeverRetriesValidation(t *testing.T) {
	attempts := 0
	s := Strategy{MaxRetries: 3, BaseDelay: time.Millisecond}

	err := s.Execute(context.Background(), func() error {
		attempts++
		return clobtypes.New(clobtypes.KindValidation, "bad input", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for non-retryable error, got %d", attempts)
	}
}
