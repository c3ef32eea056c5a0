package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var mockSourceHeader = regexp.MustCompile(`(?m)^\[(\d+)\] Document:`)

// MockProvider is a deterministic offline backend: embeddings are hashed from
// the input text and answers cite the first numbered sources of the prompt.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	items := make([]EmbeddingItem, 0, len(req.Inputs))
	for i, input := range req.Inputs {
		items = append(items, EmbeddingItem{Index: i, Vector: deterministicVector(input, dim)})
	}
	return EmbedResponse{Items: items, Info: ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}}, nil
}

func (m *MockProvider) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}
	text := mockAnswer(req)
	in := 0
	for _, msg := range req.Messages {
		in += len(strings.Fields(msg.Content))
	}
	resp := ChatResponse{Text: text, Info: ProviderInfo{Name: "mock", Model: mockModel(req.Model), Key: "mock"}}
	resp.Usage.Input = in
	resp.Usage.Output = len(strings.Fields(text))
	return resp, nil
}

// Stream emits the Generate answer word by word so the fragments concatenate
// to exactly the same text.
func (m *MockProvider) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	text := mockAnswer(req)
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for _, part := range strings.SplitAfter(text, " ") {
			if part == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: part}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func mockModel(model string) string {
	if strings.TrimSpace(model) == "" {
		return "mock-llm-v1"
	}
	return model
}

func mockAnswer(req ChatRequest) string {
	if req.JSONMode {
		return `{"detected_type":"other","confidence":0.5,"structure":{"has_toc":false,"section_count":1,"has_tables":false},"entities":[],"dates_mentioned":[]}`
	}
	var system, question string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system += msg.Content
		case "user":
			question = msg.Content
		}
	}
	matches := mockSourceHeader.FindAllStringSubmatch(system, 2)
	if len(matches) == 0 {
		return "The provided sources do not contain enough information to answer this question."
	}
	var b strings.Builder
	b.WriteString("Based on the provided documents")
	for _, m := range matches {
		b.WriteString(" [" + m[1] + "]")
	}
	b.WriteString(", this is a deterministic answer to: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
