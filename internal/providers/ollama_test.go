package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOllamaEmbedModel_Default(t *testing.T) {
	t.Setenv("DOCQA_OLLAMA_EMBED_MODEL", "")
	got := resolveOllamaEmbedModel("")
	if got != "nomic-embed-text" {
		t.Fatalf("expected default nomic-embed-text, got %q", got)
	}
}

func TestMatchDimension(t *testing.T) {
	src := []float32{1, 2, 3}
	a := matchDimension(src, 2)
	if len(a) != 2 || a[0] != 1 || a[1] != 2 {
		t.Fatalf("truncate failed: %#v", a)
	}
	b := matchDimension(src, 5)
	if len(b) != 5 || b[0] != 1 || b[2] != 3 || b[3] != 0 || b[4] != 0 {
		t.Fatalf("pad failed: %#v", b)
	}
}

func TestOllamaEmbedAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			var body struct {
				Prompt string `json:"prompt"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{float32(len(body.Prompt)), 1}})
		case "/api/chat":
			var body struct {
				Model  string `json:"model"`
				Stream bool   `json:"stream"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "llama3", body.Model)
			require.True(t, body.Stream)
			_, _ = w.Write([]byte(`{"message":{"content":"Hel"},"done":false}` + "\n" +
				`{"message":{"content":"lo"},"done":false}` + "\n" +
				`{"message":{"content":""},"done":true}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("DOCQA_OLLAMA_BASE_URL", srv.URL)

	p := NewOllamaProvider("nomic")
	resp, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "abc"}, Dimension: 3})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	require.Equal(t, 1, resp.Items[1].Index)
	require.Equal(t, []float32{3, 1, 0}, resp.Items[1].Vector)

	ch, err := p.Stream(context.Background(), ChatRequest{Model: "ollama/llama3"})
	require.NoError(t, err)
	var b strings.Builder
	for c := range ch {
		require.NoError(t, c.Err)
		b.WriteString(c.Text)
	}
	require.Equal(t, "Hello", b.String())
}
