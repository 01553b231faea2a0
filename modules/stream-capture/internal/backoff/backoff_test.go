package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := Delay(tt.attempt, cfg); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	t.Logf("✅ Backoff schedule capped at %v", cfg.MaxRetryDelay)
}

func TestRun_SucceedsAfterFailures(t *testing.T) {
	cfg := Config{MaxRetries: 5, RetryDelay: time.Millisecond, MaxRetryDelay: 4 * time.Millisecond}
	state := &State{}

	calls := 0
	err := Run(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, cfg, state)

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if state.Total() != 2 {
		t.Errorf("Total() = %d, want 2", state.Total())
	}
	if state.Current() != 0 {
		t.Errorf("Current() = %d after success, want 0", state.Current())
	}
}

func TestRun_MaxRetriesExceeded(t *testing.T) {
	cfg := Config{MaxRetries: 2, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}
	boom := errors.New("boom")

	calls := 0
	err := Run(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return boom
	}, cfg, nil)

	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapped boom", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (first try + 2 retries)", calls)
	}
}

func TestRun_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 5, RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, "test", func(ctx context.Context) error {
			return errors.New("boom")
		}, cfg, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
