package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicLiftsSystemPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be terse", body.System)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, 2000, body.MaxTokens)
		_, _ = w.Write([]byte(`{"model":"claude-3-5-sonnet","content":[{"type":"text","text":"Hi [1]"}],"usage":{"input_tokens":9,"output_tokens":2}}`))
	}))
	defer srv.Close()
	t.Setenv("DOCQA_ANTHROPIC_BASE_URL", srv.URL)
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	resp, err := NewAnthropicProvider("").Generate(context.Background(), ChatRequest{
		Model: "claude-3-5-sonnet",
		Messages: []ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "q1"},
			{Role: "assistant", Content: "a1"},
		},
		MaxTokens: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi [1]", resp.Text)
	assert.Equal(t, 9, resp.Usage.Input)
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		for _, tok := range []string{"Sure", ", done"} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", tok)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()
	t.Setenv("DOCQA_ANTHROPIC_BASE_URL", srv.URL)
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	ch, err := NewAnthropicProvider("").Stream(context.Background(), ChatRequest{Model: "claude-3-haiku"})
	require.NoError(t, err)
	var b strings.Builder
	for c := range ch {
		require.NoError(t, c.Err)
		b.WriteString(c.Text)
	}
	assert.Equal(t, "Sure, done", b.String())
}
