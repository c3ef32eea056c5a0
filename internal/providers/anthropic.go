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

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicDefaultMax     = 1024
)

// AnthropicProvider talks to the /v1/messages API. System messages are lifted
// out of the conversation into the top-level system field.
type AnthropicProvider struct {
	keyName      string
	apiKey       string
	baseURL      string
	client       *http.Client
	streamClient *http.Client
}

func NewAnthropicProvider(keyName string) *AnthropicProvider {
	baseURL := strings.TrimSpace(os.Getenv("DOCQA_ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		keyName:      keyName,
		apiKey:       resolveAnthropicKey(keyName),
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 120 * time.Second},
		streamClient: &http.Client{},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

func (a *AnthropicProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "anthropic", Model: model, Key: a.keyName}
}

func (a *AnthropicProvider) build(ctx context.Context, req ChatRequest, stream bool) (*http.Request, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic key missing for alias %q", a.keyName)
	}
	var system []string
	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMax
	}
	payload, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (a *AnthropicProvider) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	httpReq, err := a.build(ctx, req, false)
	if err != nil {
		return ChatResponse{Info: a.info(req.Model)}, err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return ChatResponse{Info: a.info(req.Model)}, fmt.Errorf("anthropic generate request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return ChatResponse{Info: a.info(req.Model)}, newStatusError("anthropic", resp, body)
	}
	var parsed struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ChatResponse{Info: a.info(req.Model)}, fmt.Errorf("decode anthropic response: %w", err)
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := ChatResponse{Text: text.String(), Info: a.info(req.Model)}
	if parsed.Model != "" {
		out.Info.Model = parsed.Model
	}
	out.Usage.Input = parsed.Usage.InputTokens
	out.Usage.Output = parsed.Usage.OutputTokens
	return out, nil
}

func (a *AnthropicProvider) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	httpReq, err := a.build(ctx, req, true)
	if err != nil {
		return nil, err
	}
	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, newStatusError("anthropic", resp, body)
	}
	out := make(chan StreamChunk)
	go pumpSSE(ctx, resp.Body, out, func(data string) (string, bool, error) {
		var ev struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", false, fmt.Errorf("decode anthropic stream event: %w", err)
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" {
				return ev.Delta.Text, false, nil
			}
		case "message_stop":
			return "", true, nil
		case "error":
			if ev.Error != nil {
				return "", false, fmt.Errorf("anthropic stream error %s: %s", ev.Error.Type, ev.Error.Message)
			}
			return "", false, fmt.Errorf("anthropic stream error")
		}
		return "", false, nil
	})
	return out, nil
}

func resolveAnthropicKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("DOCQA_ANTHROPIC_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}
