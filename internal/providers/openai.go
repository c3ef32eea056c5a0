package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// chatCompletions speaks the OpenAI chat completions protocol, which Groq
// also serves.
type chatCompletions struct {
	provider     string
	keyName      string
	apiKey       string
	baseURL      string
	client       *http.Client
	streamClient *http.Client
}

func newChatCompletions(provider, keyName, apiKey, baseURL string) chatCompletions {
	return chatCompletions{
		provider:     provider,
		keyName:      keyName,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 60 * time.Second},
		streamClient: &http.Client{},
	}
}

func (c chatCompletions) info(model string) ProviderInfo {
	return ProviderInfo{Name: c.provider, Model: model, Key: c.keyName}
}

func (c chatCompletions) payload(req ChatRequest, model string, stream bool) ([]byte, error) {
	body := map[string]any{
		"model":       model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if stream {
		body["stream"] = true
	}
	return json.Marshal(body)
}

func (c chatCompletions) newRequest(ctx context.Context, path string, payload []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.provider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (c chatCompletions) generate(ctx context.Context, req ChatRequest, model string) (ChatResponse, error) {
	if c.apiKey == "" {
		return ChatResponse{Info: c.info(model)}, fmt.Errorf("%s key missing for alias %q", c.provider, c.keyName)
	}
	payload, err := c.payload(req, model, false)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("encode %s request: %w", c.provider, err)
	}
	httpReq, err := c.newRequest(ctx, "/chat/completions", payload)
	if err != nil {
		return ChatResponse{}, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ChatResponse{Info: c.info(model)}, fmt.Errorf("%s generate request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return ChatResponse{Info: c.info(model)}, newStatusError(c.provider, resp, body)
	}
	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ChatResponse{Info: c.info(model)}, fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	if len(parsed.Choices) == 0 {
		return ChatResponse{Info: c.info(model)}, fmt.Errorf("%s returned empty choices", c.provider)
	}
	out := ChatResponse{Text: parsed.Choices[0].Message.Content, Info: c.info(model)}
	if parsed.Model != "" {
		out.Info.Model = parsed.Model
	}
	out.Usage.Input = parsed.Usage.PromptTokens
	out.Usage.Output = parsed.Usage.CompletionTokens
	return out, nil
}

func (c chatCompletions) stream(ctx context.Context, req ChatRequest, model string) (<-chan StreamChunk, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s key missing for alias %q", c.provider, c.keyName)
	}
	payload, err := c.payload(req, model, true)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", c.provider, err)
	}
	httpReq, err := c.newRequest(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s stream request failed: %w", c.provider, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, newStatusError(c.provider, resp, body)
	}
	out := make(chan StreamChunk)
	go pumpSSE(ctx, resp.Body, out, func(data string) (string, bool, error) {
		if data == "[DONE]" {
			return "", true, nil
		}
		var ev struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", false, fmt.Errorf("decode %s stream event: %w", c.provider, err)
		}
		if len(ev.Choices) == 0 {
			return "", false, nil
		}
		return ev.Choices[0].Delta.Content, false, nil
	})
	return out, nil
}

// OpenAIProvider uses standard OpenAI REST APIs when keys are configured.
type OpenAIProvider struct {
	chat           chatCompletions
	embeddingModel string
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	baseURL := strings.TrimSpace(os.Getenv("DOCQA_OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(os.Getenv("DOCQA_EMBEDDING_MODEL"))
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIProvider{
		chat:           newChatCompletions("openai", keyName, resolveOpenAIKey(keyName), baseURL),
		embeddingModel: model,
	}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	model := req.Model
	if model == "" {
		model = o.embeddingModel
	}
	info := o.chat.info(model)
	if o.chat.apiKey == "" {
		return EmbedResponse{Info: info}, fmt.Errorf("openai key missing for alias %q", o.chat.keyName)
	}
	body := map[string]any{"model": model, "input": req.Inputs}
	if req.Dimension > 0 && strings.HasPrefix(model, "text-embedding-3") {
		body["dimensions"] = req.Dimension
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return EmbedResponse{Info: info}, fmt.Errorf("encode embedding request: %w", err)
	}
	httpReq, err := o.chat.newRequest(ctx, "/embeddings", payload)
	if err != nil {
		return EmbedResponse{Info: info}, err
	}
	resp, err := o.chat.client.Do(httpReq)
	if err != nil {
		return EmbedResponse{Info: info}, fmt.Errorf("openai embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return EmbedResponse{Info: info}, newStatusError("openai", resp, raw)
	}
	var parsed struct {
		Data []EmbeddingItem `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return EmbedResponse{Info: info}, fmt.Errorf("decode embedding response: %w", err)
	}
	return EmbedResponse{Items: parsed.Data, Info: info}, nil
}

func (o *OpenAIProvider) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return o.chat.generate(ctx, req, req.Model)
}

func (o *OpenAIProvider) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	return o.chat.stream(ctx, req, req.Model)
}

func resolveOpenAIKey(alias string) string {
	if alias != "" {
		k := os.Getenv("DOCQA_OPENAI_KEY_" + strings.ToUpper(alias))
		if k != "" {
			return k
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}
