package providers

import (
	"context"
	"os"
	"strings"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqProvider supports LLM generation via Groq's OpenAI-compatible API.
// Models are addressed as "groq/<model>".
type GroqProvider struct {
	chat  chatCompletions
	model string
}

func NewGroqProvider(keyName string) *GroqProvider {
	model := os.Getenv("DOCQA_GROQ_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "llama-3.1-8b-instant"
	}
	baseURL := strings.TrimSpace(os.Getenv("DOCQA_GROQ_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	return &GroqProvider{
		chat:  newChatCompletions("groq", keyName, resolveGroqKey(keyName), baseURL),
		model: model,
	}
}

func (g *GroqProvider) resolveModel(model string) string {
	model = strings.TrimPrefix(model, "groq/")
	if strings.TrimSpace(model) == "" {
		return g.model
	}
	return model
}

func (g *GroqProvider) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return g.chat.generate(ctx, req, g.resolveModel(req.Model))
}

func (g *GroqProvider) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	return g.chat.stream(ctx, req, g.resolveModel(req.Model))
}

func resolveGroqKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("DOCQA_GROQ_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	return os.Getenv("GROQ_API_KEY")
}
