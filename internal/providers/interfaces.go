package providers

import (
	"context"

	"docqa/internal/models"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	JSONMode    bool          `json:"json_mode"`
}

type ChatResponse struct {
	Text  string            `json:"text"`
	Usage models.TokenUsage `json:"usage"`
	Info  ProviderInfo      `json:"info"`
}

// StreamChunk is one generated fragment. A chunk with Err set is the last
// value sent before the channel closes.
type StreamChunk struct {
	Text string
	Err  error
}

type EmbedRequest struct {
	Model     string   `json:"model"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

// EmbeddingItem keeps the provider-reported position of a vector; providers
// may return items out of input order.
type EmbeddingItem struct {
	Index  int       `json:"index"`
	Vector []float32 `json:"embedding"`
}

type EmbedResponse struct {
	Items []EmbeddingItem `json:"items"`
	Info  ProviderInfo    `json:"info"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
}
