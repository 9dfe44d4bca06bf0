// Package retry runs an operation with backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Logger receives one line per failed attempt (nil = slog.Default()).
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for retry behavior
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0, // 1s, 2s, 4s, 8s
	}
}

// WithExponentialBackoff executes fn until it succeeds, the attempts run out
// or ctx is cancelled. Returns error only if all retries are exhausted.
func WithExponentialBackoff(ctx context.Context, cfg Config, operation string, fn func(ctx context.Context) error) error {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("retry succeeded", "operation", operation, "attempt", attempt)
			}
			return nil
		}

		lastErr = err
		log.Warn("attempt failed", "operation", operation, "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)

		if attempt >= cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled during retry: %w", operation, ctx.Err())
		case <-timer.C:
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}
