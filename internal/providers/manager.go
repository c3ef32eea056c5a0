package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docqa/internal/config"
)

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager owns the configured embedding backends and routes chat requests to
// an LLM backend by model name. It satisfies LLMProvider itself.
type Manager struct {
	embedProviders []NamedEmbedProvider
	logger         *slog.Logger

	mu    sync.Mutex
	llm   map[string]LLMProvider
	dim   int
	retry Retry
}

func NewManager(cfg config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger, llm: map[string]LLMProvider{}, dim: cfg.EmbedDim, retry: ChatRetry(cfg)}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildEmbedProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: p})
	}
	return m, nil
}

func (m *Manager) FirstEmbedProvider() EmbeddingProvider {
	if len(m.embedProviders) == 0 {
		return NewMockProvider(m.dim)
	}
	return m.embedProviders[0].Provider
}

func (m *Manager) EmbedProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.embedProviders))
	for i := range m.embedProviders {
		out = append(out, m.embedProviders[i].Ref)
	}
	return out
}

// Register installs or replaces the backend used for a backend name.
func (m *Manager) Register(name string, p LLMProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llm[name] = p
}

// BackendFor maps a model name to a backend name. Unknown names fall back to
// openai with known=false.
func BackendFor(model string) (name string, known bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"):
		return "openai", true
	case strings.HasPrefix(m, "claude"):
		return "anthropic", true
	case strings.HasPrefix(m, "groq/"):
		return "groq", true
	case strings.HasPrefix(m, "ollama/"):
		return "ollama", true
	case strings.HasPrefix(m, "mock"):
		return "mock", true
	default:
		return "openai", false
	}
}

// Route returns the backend for model, constructing it on first use.
func (m *Manager) Route(model string) LLMProvider {
	name, known := BackendFor(model)
	if !known {
		m.logger.Warn("unknown model prefix, routing to openai", "model", model)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.llm[name]; ok {
		return p
	}
	p := buildLLMProvider(name, m.dim)
	m.llm[name] = p
	return p
}

// ChatRetry is the chat backoff schedule: LLMMaxRetries attempts on the
// embedding base delay and cap.
func ChatRetry(cfg config.Config) Retry {
	return Retry{
		MaxAttempts: cfg.LLMMaxRetries,
		BaseDelay:   time.Duration(cfg.EmbedBaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.EmbedMaxDelayMS) * time.Millisecond,
	}
}

// SetRetry replaces the chat backoff schedule.
func (m *Manager) SetRetry(r Retry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retry = r
}

func (m *Manager) routeWithRetry(model string) *retrying {
	p := m.Route(model)
	m.mu.Lock()
	defer m.mu.Unlock()
	return &retrying{next: p, retry: m.retry, logger: m.logger}
}

func (*Manager) retriesTransient() {}

// Generate routes req by model and retries rate-limit and transient failures.
func (m *Manager) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return m.routeWithRetry(req.Model).Generate(ctx, req)
}

// Stream retries only until the backend accepts the request; fragments are
// never replayed.
func (m *Manager) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	return m.routeWithRetry(req.Model).Stream(ctx, req)
}

func buildLLMProvider(name string, dim int) LLMProvider {
	switch name {
	case "anthropic":
		return NewAnthropicProvider("")
	case "groq":
		return NewGroqProvider("")
	case "ollama":
		return NewOllamaProvider("")
	case "mock":
		return NewMockProvider(dim)
	default:
		return NewOpenAIProvider("")
	}
}

func buildEmbedProvider(ref ProviderRef, dim int) (EmbeddingProvider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.Alias), nil
	case "ollama":
		return NewOllamaProvider(ref.Alias), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ref.Name)
	}
}
