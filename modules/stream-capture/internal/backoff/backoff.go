// Package backoff runs a connect function with capped exponential retry.
package backoff

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config contains configuration for exponential backoff
type Config struct {
	MaxRetries    int           // Maximum number of attempts after the first failure (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks consecutive failures and the total retry count.
// Safe for concurrent use; Reset may be called from another goroutine.
type State struct {
	current atomic.Int32
	total   atomic.Uint32
}

// Current returns the consecutive failures since the last reset.
func (s *State) Current() int { return int(s.current.Load()) }

// Total returns every retry ever scheduled.
func (s *State) Total() uint32 { return s.total.Load() }

// Reset clears the consecutive failure counter after a healthy period.
func (s *State) Reset() {
	if s.current.Swap(0) != 0 {
		slog.Debug("backoff: retry state reset")
	}
}

// ConnectFunc attempts one connection. Returning nil ends Run.
type ConnectFunc func(ctx context.Context) error

// Run calls fn until it returns nil, the context ends or MaxRetries
// consecutive failures have been retried.
//
// Delay schedule with the default config: 1s, 2s, 4s, 8s, 16s.
func Run(ctx context.Context, name string, fn ConnectFunc, cfg Config, state *State) error {
	if state == nil {
		state = &State{}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			state.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := int(state.current.Add(1))
		state.total.Add(1)

		if attempt > cfg.MaxRetries {
			return fmt.Errorf("%s: max retries exceeded (%d attempts): %w", name, cfg.MaxRetries, err)
		}

		delay := Delay(attempt, cfg)
		slog.Warn(name+": retrying",
			"error", err,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info(name + ": context cancelled during backoff")
			return ctx.Err()
		}
	}
}

// Delay returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
