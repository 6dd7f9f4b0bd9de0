package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func tripBreaker(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	fail := errors.New("down")
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return fail })
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	tripBreaker(t, cb, 3)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	tripBreaker(t, cb, 2)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	tripBreaker(t, cb, 2)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	tripBreaker(t, cb, 1)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	// After the reset timeout, a successful probe closes the circuit.
	now = now.Add(2 * time.Minute)
	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	tripBreaker(t, cb, 1)
	now = now.Add(2 * time.Minute)
	tripBreaker(t, cb, 1)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// Permanent errors pass through without tripping.
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("invalid request")
	})
	if cb.State() != CircuitClosed {
		t.Errorf("permanent error should not trip, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return NewTransientError(errors.New("down"), 503)
	})
	if cb.State() != CircuitOpen {
		t.Errorf("transient error should trip, got %s", cb.State())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	tripBreaker(t, cb, 1)
	cb.Reset()

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %v", transitions)
	}
	if transitions[0] != "closed->open" || transitions[1] != "open->closed" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}
