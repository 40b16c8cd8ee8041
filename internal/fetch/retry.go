// Package fetch downloads external archives over HTTP with resumable,
// backed-off retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Retry defaults.
const (
	DefaultMaxRetries   = 8
	DefaultInitialDelay = 10 * time.Second
	DefaultDelayStep    = 10 * time.Second
	DefaultMaxDelay     = 90 * time.Second
)

var (
	// ErrRetriesExhausted is returned when an operation keeps failing past the retry ceiling.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrSizeMismatch is returned when the downloaded size differs from the declared size.
	ErrSizeMismatch = errors.New("downloaded size does not match declared size")
)

// Policy is a linear backoff schedule with a ceiling on consecutive failures.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	DelayStep    time.Duration
	MaxDelay     time.Duration
	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the schedule used for archive downloads:
// 10s, 20s, ... capped at 90s, at most 8 retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		DelayStep:    DefaultDelayStep,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Delay returns the wait before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.InitialDelay + time.Duration(n-1)*p.DelayStep
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Op is one attempt of a retried operation. failures is the number of
// consecutive failures so far. It reports whether it made progress before
// failing, which resets the failure count.
type Op func(ctx context.Context, failures int) (progressed bool, err error)

// Retry runs op until it succeeds, fails permanently, or fails more than
// MaxRetries times in a row.
func Retry(ctx context.Context, p Policy, op Op) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed, err := op(ctx, failures)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) {
			return err
		}
		if progressed {
			failures = 0
		}
		failures++
		if failures > p.MaxRetries {
			return fmt.Errorf("%w after %d consecutive failures: %v", ErrRetriesExhausted, failures, err)
		}

		delay := p.Delay(failures)
		log.Warn().
			Err(err).
			Int("attempt", failures).
			Int("maxRetries", p.MaxRetries).
			Dur("delay", delay).
			Msg("Transfer interrupted, retrying")
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// StatusError is an unexpected HTTP response status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.Code, e.URL)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether err may succeed on retry. Server errors, 408,
// 429, network failures, and truncated bodies are transient; other 4xx
// statuses, size mismatches, and errors marked Permanent are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, ErrSizeMismatch) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= http.StatusInternalServerError ||
			status.Code == http.StatusRequestTimeout ||
			status.Code == http.StatusTooManyRequests
	}
	return true
}
