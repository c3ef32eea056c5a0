package tokenizer

import (
	"strings"
	"sync"
)

// Words treats every whitespace-separated field as one token. It has no model
// fidelity and exists for deterministic budgets in tests and offline tooling.
type Words struct {
	mu    sync.Mutex
	vocab map[string]int
	rev   []string
}

func NewWords() *Words {
	return &Words{vocab: map[string]int{}}
}

func (w *Words) Encode(text string) []int {
	fields := strings.Fields(text)
	out := make([]int, 0, len(fields))
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range fields {
		id, ok := w.vocab[f]
		if !ok {
			id = len(w.rev)
			w.vocab[f] = id
			w.rev = append(w.rev, f)
		}
		out = append(out, id)
	}
	return out
}

func (w *Words) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(w.rev) {
			parts = append(parts, w.rev[id])
		}
	}
	return strings.Join(parts, " ")
}

func (w *Words) Count(text string) int {
	return len(strings.Fields(text))
}
