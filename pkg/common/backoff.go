package common

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/beam-cloud/indexsync/pkg/types"
	"github.com/rs/zerolog/log"
)

// Backoff is an exponential retry policy.
// Delay before attempt n+1 is InitialDelay * Multiplier^(n-1), capped at MaxDelay.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int

	// Sleep waits for d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewBackoff builds a policy from config, filling unset fields with defaults
func NewBackoff(config types.RetryConfig) *Backoff {
	b := &Backoff{
		InitialDelay: config.InitialDelay,
		Multiplier:   config.Multiplier,
		MaxDelay:     config.MaxDelay,
		MaxAttempts:  config.MaxAttempts,
		Sleep:        SleepContext,
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = 100 * time.Millisecond
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 10 * time.Second
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 10
	}
	return b
}

// Delay returns the wait after the given failed attempt (1-based)
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.MaxDelay) || math.IsInf(d, 0) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Delays lists every wait the policy will perform when all attempts fail
func (b *Backoff) Delays() []time.Duration {
	if b.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, b.MaxAttempts-1)
	for i := 1; i < b.MaxAttempts; i++ {
		out = append(out, b.Delay(i))
	}
	return out
}

// Do runs fn until it succeeds, returns a non-retryable error, the context is
// cancelled, or MaxAttempts is reached. In the last case the final error is
// wrapped in *types.ErrRetryExhausted.
func (b *Backoff) Do(ctx context.Context, op string, fn func(ctx context.Context) error, retryable func(error) bool) error {
	sleep := b.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return err
			}
		}

		if retryable != nil && !retryable(err) {
			return err
		}

		if attempt == b.MaxAttempts {
			break
		}

		delay := b.Delay(attempt)
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("delay", delay).Msg("retrying")

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	return &types.ErrRetryExhausted{Op: op, Attempts: b.MaxAttempts, Err: err}
}

// SleepContext waits for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
