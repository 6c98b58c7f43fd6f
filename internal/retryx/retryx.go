// Package retryx implements the shared retry/timeout policy applied to
// every external call: exponential backoff with a per-call deadline,
// cancellation-aware, retrying only a fixed class of transient errors.
// Grounded on internal/sefii/engine.go's execWithRetry (fixed attempt count,
// linear backoff, log-and-continue loop), generalized to exponential
// backoff with a cap and a process-wide append-only telemetry log per
// spec.md's retry policy.
package retryx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"agenticrag/internal/config"
)

// Retryable reports whether err belongs to one of the retryable classes:
// connection reset, timeout, 429, 503, or explicit abort (context
// cancellation/deadline, which the caller re-raises rather than retries
// past the deadline).
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "429", "503", "timeout", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Attempt records one retry attempt for the process-wide telemetry log.
type Attempt struct {
	Operation string
	Attempt   int
	Err       error
	At        time.Time
}

var (
	logMu  sync.Mutex
	logBuf []Attempt
	logCap = 500
)

// recordAttempt appends to the bounded, process-wide retry telemetry log,
// evicting the oldest entry once logCap is reached.
func recordAttempt(a Attempt) {
	logMu.Lock()
	defer logMu.Unlock()
	logBuf = append(logBuf, a)
	if len(logBuf) > logCap {
		logBuf = logBuf[len(logBuf)-logCap:]
	}
}

// TelemetrySnapshot returns a copy of the current retry telemetry log.
func TelemetrySnapshot() []Attempt {
	logMu.Lock()
	defer logMu.Unlock()
	out := make([]Attempt, len(logBuf))
	copy(out, logBuf)
	return out
}

// Policy is the resolved retry/timeout configuration for one call site.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	PerCallTimeout time.Duration
}

// FromConfig builds a Policy from config.RetryConfig.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		PerCallTimeout: time.Duration(cfg.PerCallTimeoutMs) * time.Millisecond,
	}
}

// Do runs fn under the policy: each attempt gets its own per-call deadline
// derived from the caller's ctx, retryable errors are retried with
// exponential backoff up to MaxAttempts, and every attempt (success or
// failure) is appended to the telemetry log. op names the call site for
// that log. Do returns immediately, without retrying, if ctx is already
// cancelled or the error is not retryable.
func Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if p.PerCallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.PerCallTimeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}

		recordAttempt(Attempt{Operation: op, Attempt: attempt, Err: err, At: time.Now()})

		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := backoffDelay(p, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: exhausted %d attempts: %w", op, maxAttempts, lastErr)
}

// backoffDelay computes exponential backoff: base * 2^attempt, capped at
// MaxDelay.
func backoffDelay(p Policy, attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
