package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry is the backoff schedule shared by embedding and chat calls: BaseDelay
// doubling per attempt up to MaxDelay, stretched to a provider Retry-After
// hint when that is longer. Only rate-limit and transient errors are retried.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Sleep waits between attempts; nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned by Retry.Do when every attempt failed with a
// retryable error. It unwraps to the last error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (r Retry) withDefaults() Retry {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 60 * time.Second
	}
	if r.Sleep == nil {
		r.Sleep = sleepCtx
	}
	return r
}

// Backoff is the wait after the given zero-based failed attempt.
func (r Retry) Backoff(attempt int) time.Duration {
	r = r.withDefaults()
	d := r.BaseDelay
	for i := 0; i < attempt && d < r.MaxDelay; i++ {
		d *= 2
	}
	if d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds or returns a non-retryable error, or until
// MaxAttempts is reached, in which case the error is an *ExhaustedError.
// A cancelled ctx stops the loop with ctx.Err().
func (r Retry) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	r = r.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
		if attempt == r.MaxAttempts-1 {
			break
		}
		delay := r.Backoff(attempt)
		if hint := RetryAfter(err); hint > delay {
			delay = hint
		}
		logger.Warn(op+" failed, retrying",
			"attempt", attempt+1, "max_attempts", r.MaxAttempts, "delay", delay, "error", err)
		if err := r.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: r.MaxAttempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retrying retries Generate, and the opening of Stream, on transient
// failures. Once a stream channel is returned nothing is replayed.
type retrying struct {
	next   LLMProvider
	retry  Retry
	logger *slog.Logger
}

// retriesTransient marks providers that already retry, so wrapping is not
// stacked.
type retriesTransient interface {
	retriesTransient()
}

func (*retrying) retriesTransient() {}

// WithRetry wraps p so transient chat failures are retried with r. A
// provider that already retries is returned unchanged.
func WithRetry(p LLMProvider, r Retry, logger *slog.Logger) LLMProvider {
	if _, ok := p.(retriesTransient); ok || p == nil {
		return p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{next: p, retry: r, logger: logger}
}

func (p *retrying) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	err := p.retry.Do(ctx, p.logger, "chat completion", func(ctx context.Context) error {
		var err error
		resp, err = p.next.Generate(ctx, req)
		return err
	})
	return resp, err
}

func (p *retrying) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	var ch <-chan StreamChunk
	err := p.retry.Do(ctx, p.logger, "chat stream", func(ctx context.Context) error {
		var err error
		ch, err = p.next.Stream(ctx, req)
		return err
	})
	return ch, err
}
