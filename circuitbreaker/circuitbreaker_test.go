package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errCarrier = errors.New("carrier unavailable")

func fail(ctx context.Context) error { return errCarrier }
func ok(ctx context.Context) error   { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New("test", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errCarrier) {
			t.Fatalf("Call %d: expected carrier error, got %v", i, err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state open after 3 failures, got %s", cb.GetState())
	}
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := New("test", 3, time.Minute)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, ok)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed with interleaved successes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := New("test", 1, 10*time.Millisecond)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state open, got %s", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("Probe call should be allowed after reset timeout, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed after successful probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := New("test", 1, 10*time.Millisecond)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(ctx, fail); !errors.Is(err, errCarrier) {
		t.Fatalf("Probe call should run, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state open after failed probe, got %s", cb.GetState())
	}
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen immediately after failed probe, got %v", err)
	}
}
