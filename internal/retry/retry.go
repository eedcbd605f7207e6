// Package retry provides a bounded retry loop with exponential backoff and
// error classification.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/depotlabs/depot/internal/common"
)

// The delay floor applied after jitter.
const minDelay = 100 * time.Millisecond

// Config tunes an Executor.
type Config struct {
	MaxRetries   int           // retries after the first attempt; 3 means up to 4 total attempts
	InitialDelay time.Duration // first backoff interval
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64       // backoff growth factor, default 2
	Jitter       bool          // add ±10% uniform noise to each delay

	// RetryableErrors overrides classification: an error whose code or
	// message contains one of these entries is retried regardless of what
	// the classifier says.
	RetryableErrors []string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	return c
}

// Attempt records the outcome of one execution attempt.
type Attempt struct {
	Number   int           `json:"number"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ExhaustedError wraps the final error after all retries failed, carrying the
// attempt history. Unwrap exposes the original error so callers can still
// match its type.
type ExhaustedError struct {
	Attempts []Attempt
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", len(e.Attempts), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Executor runs operations under a retry policy.
type Executor struct {
	cfg    Config
	logger *common.Logger
}

// New creates an Executor. A nil logger is replaced with a silent one.
func New(cfg Config, logger *common.Logger) *Executor {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Executor{cfg: cfg.withDefaults(), logger: logger}
}

// NewDefault creates an Executor with the file-processing preset.
func NewDefault(logger *common.Logger) *Executor {
	return New(FileProcessing(), logger)
}

// forcedRetryable reports whether the override set matches the error.
func (e *Executor) forcedRetryable(err error) bool {
	if len(e.cfg.RetryableErrors) == 0 {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range e.cfg.RetryableErrors {
		if strings.Contains(msg, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// shouldRetry applies the classification policy: permanent aborts, everything
// else (retryable and unknown) is retried. Unknown errors are retried so
// transient conditions outside the known lists still get another chance.
func (e *Executor) shouldRetry(err error) bool {
	if e.forcedRetryable(err) {
		return true
	}
	return common.Classify(err) != common.ClassPermanent
}

// newBackOff builds the delay schedule for one execution.
func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialDelay
	b.MaxInterval = e.cfg.MaxDelay
	b.Multiplier = e.cfg.Multiplier
	b.MaxElapsedTime = 0
	if e.cfg.Jitter {
		b.RandomizationFactor = 0.1
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// Execute runs op until it succeeds, fails permanently, or exhausts retries.
// The per-execution attempt history is attached to the terminal error.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do runs op under the executor's policy and returns its value.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var attempts []Attempt

	b := e.newBackOff()

	for attempt := 0; ; attempt++ {
		start := time.Now()
		result, err := op(ctx)
		elapsed := time.Since(start)

		if err == nil {
			attempts = append(attempts, Attempt{Number: attempt + 1, Success: true, Duration: elapsed})
			return result, nil
		}

		attempts = append(attempts, Attempt{
			Number:   attempt + 1,
			Duration: elapsed,
			Error:    err.Error(),
		})

		if !e.shouldRetry(err) {
			e.logger.Debug().
				Int("attempt", attempt+1).
				Err(err).
				Msg("Permanent error, not retrying")
			return zero, err
		}

		if attempt >= e.cfg.MaxRetries {
			return zero, &ExhaustedError{Attempts: attempts, Err: err}
		}

		delay := b.NextBackOff()
		if delay < minDelay {
			delay = minDelay
		}

		e.logger.Debug().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after delay")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}
