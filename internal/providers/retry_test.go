package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"docqa/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingRetry(attempts int) (Retry, *[]time.Duration) {
	var slept []time.Duration
	return Retry{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, &slept
}

func TestRetryBackoffDoublesToCap(t *testing.T) {
	r := Retry{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	got := []time.Duration{r.Backoff(0), r.Backoff(1), r.Backoff(2), r.Backoff(3), r.Backoff(10)}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
}

func TestRetryDo(t *testing.T) {
	rate := &StatusError{Provider: "openai", StatusCode: http.StatusTooManyRequests}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		r, slept := recordingRetry(3)
		calls := 0
		err := r.Do(context.Background(), nil, "op", func(context.Context) error {
			calls++
			if calls < 3 {
				return rate
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	})

	t.Run("exhausted wraps last error", func(t *testing.T) {
		r, _ := recordingRetry(2)
		err := r.Do(context.Background(), nil, "op", func(context.Context) error { return rate })
		var ex *ExhaustedError
		require.ErrorAs(t, err, &ex)
		assert.Equal(t, 2, ex.Attempts)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	})

	t.Run("permanent error returns at once", func(t *testing.T) {
		r, slept := recordingRetry(3)
		bad := errors.New("invalid api key")
		calls := 0
		err := r.Do(context.Background(), nil, "op", func(context.Context) error { calls++; return bad })
		require.ErrorIs(t, err, bad)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *slept)
	})

	t.Run("cancelled context stops", func(t *testing.T) {
		r, _ := recordingRetry(3)
		ctx, cancel := context.WithCancel(context.Background())
		err := r.Do(ctx, nil, "op", func(context.Context) error { cancel(); return rate })
		require.ErrorIs(t, err, context.Canceled)
	})
}

type countingLLM struct {
	errs  []error
	calls int
}

func (c *countingLLM) next() error {
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

func (c *countingLLM) Generate(context.Context, ChatRequest) (ChatResponse, error) {
	if err := c.next(); err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Text: "ok"}, nil
}

func (c *countingLLM) Stream(context.Context, ChatRequest) (<-chan StreamChunk, error) {
	if err := c.next(); err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Text: "ok"}
	close(ch)
	return ch, nil
}

func TestManagerRetriesTransientChatErrors(t *testing.T) {
	m, err := NewManager(config.Defaults(), nil)
	require.NoError(t, err)
	r, slept := recordingRetry(3)
	m.SetRetry(r)
	llm := &countingLLM{errs: []error{&StatusError{Provider: "openai", StatusCode: 500}}}
	m.Register("openai", llm)

	resp, err := m.Generate(context.Background(), ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, llm.calls)

	llm.errs = []error{&StatusError{Provider: "openai", StatusCode: 429}}
	ch, err := m.Stream(context.Background(), ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "ok", (<-ch).Text)
	assert.Equal(t, 4, llm.calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *slept)
}

func TestWithRetryDoesNotStack(t *testing.T) {
	m, err := NewManager(config.Defaults(), nil)
	require.NoError(t, err)
	assert.Same(t, m, WithRetry(m, Retry{}, nil))

	wrapped := WithRetry(&countingLLM{}, Retry{}, nil)
	assert.Same(t, wrapped, WithRetry(wrapped, Retry{}, nil))
}
