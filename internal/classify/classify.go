// Package classify labels a document from a text sample using an LLM in JSON mode.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"docqa/internal/models"
	"docqa/internal/providers"
	"docqa/internal/tokenizer"
)

const (
	MaxSampleTokens = 2000
	maxTokens       = 1024
)

type Classifier struct {
	llm    providers.LLMProvider
	tok    tokenizer.Tokenizer
	model  string
	logger *slog.Logger
}

func New(llm providers.LLMProvider, tok tokenizer.Tokenizer, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: llm, tok: tok, model: model, logger: logger}
}

// Classify never fails: any backend or decoding error yields
// models.DefaultClassification().
func (c *Classifier) Classify(ctx context.Context, sample string) models.Classification {
	truncated := tokenizer.Truncate(c.tok, sample, MaxSampleTokens)
	resp, err := c.llm.Generate(ctx, providers.ChatRequest{
		Model: c.model,
		Messages: []providers.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, truncated)},
		},
		Temperature: 0,
		MaxTokens:   maxTokens,
		JSONMode:    true,
	})
	if err != nil {
		c.logger.Error("document classification failed", "model", c.model, "error", err)
		return models.DefaultClassification()
	}
	content := strings.TrimSpace(resp.Text)
	if content == "" {
		content = "{}"
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		c.logger.Error("classifier returned non-JSON response", "model", c.model, "error", err)
		return models.DefaultClassification()
	}
	return Normalize(raw)
}

// Normalize backfills missing keys and coerces loosely typed values.
func Normalize(raw map[string]any) models.Classification {
	out := models.DefaultClassification()
	if s, ok := raw["detected_type"].(string); ok && strings.TrimSpace(s) != "" {
		out.DetectedType = strings.TrimSpace(s)
	}
	out.Confidence = clamp01(toFloat(raw["confidence"]))
	if st, ok := raw["structure"].(map[string]any); ok {
		out.Structure.HasTOC = toBool(st["has_toc"])
		out.Structure.SectionCount = int(math.Max(0, toFloat(st["section_count"])))
		out.Structure.HasTables = toBool(st["has_tables"])
	}
	out.Entities = toStrings(raw["entities"])
	out.DatesMentioned = toStrings(raw["dates_mentioned"])
	return out
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	return false
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
