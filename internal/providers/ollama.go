package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OllamaProvider serves local embeddings and chat via Ollama.
// Example embedding model: nomic-embed-text (Nomic Embed v1.5 family).
// Chat models are addressed as "ollama/<model>".
type OllamaProvider struct {
	alias        string
	baseURL      string
	model        string
	client       *http.Client
	streamClient *http.Client
}

func NewOllamaProvider(alias string) *OllamaProvider {
	baseURL := strings.TrimSpace(os.Getenv("DOCQA_OLLAMA_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		alias:        alias,
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        resolveOllamaEmbedModel(alias),
		client:       &http.Client{Timeout: 90 * time.Second},
		streamClient: &http.Client{},
	}
}

func (o *OllamaProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "ollama", Model: model, Key: o.alias}
}

func (o *OllamaProvider) post(ctx context.Context, client *http.Client, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, newStatusError("ollama", resp, raw)
	}
	return resp, nil
}

func (o *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	if len(req.Inputs) == 0 {
		return EmbedResponse{Info: o.info(o.model)}, fmt.Errorf("no embedding inputs")
	}
	items := make([]EmbeddingItem, 0, len(req.Inputs))
	for i, text := range req.Inputs {
		resp, err := o.post(ctx, o.client, "/api/embeddings", map[string]any{
			"model":  o.model,
			"prompt": text,
		})
		if err != nil {
			return EmbedResponse{Info: o.info(o.model)}, err
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return EmbedResponse{Info: o.info(o.model)}, fmt.Errorf("decode ollama embedding response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return EmbedResponse{Info: o.info(o.model)}, fmt.Errorf("ollama returned empty embedding")
		}
		items = append(items, EmbeddingItem{Index: i, Vector: matchDimension(parsed.Embedding, req.Dimension)})
	}
	return EmbedResponse{Items: items, Info: o.info(o.model)}, nil
}

type ollamaChatLine struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (o *OllamaProvider) chatBody(req ChatRequest, stream bool) map[string]any {
	opts := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	body := map[string]any{
		"model":    strings.TrimPrefix(req.Model, "ollama/"),
		"messages": req.Messages,
		"stream":   stream,
		"options":  opts,
	}
	if req.JSONMode {
		body["format"] = "json"
	}
	return body
}

func (o *OllamaProvider) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := strings.TrimPrefix(req.Model, "ollama/")
	resp, err := o.post(ctx, o.client, "/api/chat", o.chatBody(req, false))
	if err != nil {
		return ChatResponse{Info: o.info(model)}, err
	}
	defer resp.Body.Close()
	var line ollamaChatLine
	if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
		return ChatResponse{Info: o.info(model)}, fmt.Errorf("decode ollama chat response: %w", err)
	}
	if line.Error != "" {
		return ChatResponse{Info: o.info(model)}, fmt.Errorf("ollama chat error: %s", line.Error)
	}
	out := ChatResponse{Text: line.Message.Content, Info: o.info(model)}
	out.Usage.Input = line.PromptEvalCount
	out.Usage.Output = line.EvalCount
	return out, nil
}

// Stream reads Ollama's newline-delimited JSON chat stream.
func (o *OllamaProvider) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := o.post(ctx, o.streamClient, "/api/chat", o.chatBody(req, true))
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		send := func(c StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			var line ollamaChatLine
			if err := json.Unmarshal(raw, &line); err != nil {
				send(StreamChunk{Err: fmt.Errorf("decode ollama stream line: %w", err)})
				return
			}
			if line.Error != "" {
				send(StreamChunk{Err: errors.New("ollama chat error: " + line.Error)})
				return
			}
			if line.Message.Content != "" && !send(StreamChunk{Text: line.Message.Content}) {
				return
			}
			if line.Done {
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			send(StreamChunk{Err: err})
		}
	}()
	return out, nil
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		key := "DOCQA_OLLAMA_EMBED_MODEL_" + strings.ToUpper(sanitizeEnvToken(alias))
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// Allow direct model in provider list, e.g. ollama:nomic-embed-text
		if strings.Contains(alias, "-") || strings.Contains(alias, "/") || strings.Contains(alias, ".") {
			return alias
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCQA_OLLAMA_EMBED_MODEL")); v != "" {
		return v
	}
	return "nomic-embed-text"
}

func sanitizeEnvToken(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
