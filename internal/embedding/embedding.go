// Package embedding batches texts through an embedding backend with pacing
// and exponential backoff.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"docqa/internal/config"
	"docqa/internal/providers"
	"docqa/internal/util"

	"golang.org/x/time/rate"
)

const MaxInputChars = 30000

type Options struct {
	Model             string
	Dimension         int
	BatchSize         int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Model:             cfg.EmbeddingModel,
		Dimension:         cfg.EmbedDim,
		BatchSize:         cfg.EmbedBatchSize,
		MaxRetries:        cfg.EmbedMaxRetries,
		BaseDelay:         time.Duration(cfg.EmbedBaseDelayMS) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.EmbedMaxDelayMS) * time.Millisecond,
		RequestsPerSecond: cfg.EmbedRequestsPerSecond,
	}
}

type Generator struct {
	provider providers.EmbeddingProvider
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
	retry    providers.Retry
}

func New(p providers.EmbeddingProvider, opts Options, logger *slog.Logger) *Generator {
	if opts.BatchSize <= 0 || opts.BatchSize > 2048 {
		opts.BatchSize = 2048
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	retry := providers.Retry{MaxAttempts: opts.MaxRetries, BaseDelay: opts.BaseDelay, MaxDelay: opts.MaxDelay}
	return &Generator{provider: p, opts: opts, limiter: limiter, logger: logger, retry: retry}
}

// Embed returns one vector per text, in input order.
func (g *Generator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.opts.BatchSize {
		end := start + g.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedOne embeds a single text, cut to MaxInputChars characters.
func (g *Generator) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	text, cut := util.TruncateRunes(text, MaxInputChars)
	if cut {
		g.logger.Debug("embedding input truncated", "max_chars", MaxInputChars)
	}
	vecs, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Generator) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var resp providers.EmbedResponse
	err := g.retry.Do(ctx, g.logger, "embedding request", func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		resp, err = g.provider.Embed(ctx, providers.EmbedRequest{
			Model:     g.opts.Model,
			Inputs:    batch,
			Dimension: g.opts.Dimension,
		})
		return err
	})
	var exhausted *providers.ExhaustedError
	switch {
	case errors.As(err, &exhausted) && providers.ClassifyError(exhausted.Err) == providers.ErrorRate:
		return nil, fmt.Errorf("%w: %v", util.ErrRateLimitExceeded, exhausted)
	case err != nil:
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return ordered(resp.Items, len(batch))
}

// ordered sorts provider items by index and checks the count matches the input.
func ordered(items []providers.EmbeddingItem, want int) ([][]float32, error) {
	if len(items) != want {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d want %d", util.ErrUpstream, len(items), want)
	}
	sorted := append([]providers.EmbeddingItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	out := make([][]float32, want)
	for i, it := range sorted {
		if it.Index != i {
			return nil, fmt.Errorf("%w: embedding index %d out of range", util.ErrUpstream, it.Index)
		}
		out[i] = it.Vector
	}
	return out, nil
}
