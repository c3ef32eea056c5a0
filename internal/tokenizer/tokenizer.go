// Package tokenizer counts and slices text in model tokens.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding covers text-embedding-3-* and the GPT-4 family.
const DefaultEncoding = "cl100k_base"

// Tokenizer is the token accounting used by the chunker, the classifier and
// the query prompt budget. Decode(Encode(s)) must round-trip s.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

var loaderOnce sync.Once

// Tiktoken wraps a BPE encoding. The ranks are embedded in the binary so no
// network fetch happens at startup.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func New(encoding string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	if strings.TrimSpace(encoding) == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// ForModel resolves the encoding of a model name, falling back to cl100k_base.
func ForModel(model string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return New(DefaultEncoding)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

func (t *Tiktoken) Count(text string) int {
	return len(t.Encode(text))
}

// Truncate keeps the first maxTokens tokens of text.
func Truncate(tok Tokenizer, text string, maxTokens int) string {
	tokens := tok.Encode(text)
	if len(tokens) <= maxTokens {
		return text
	}
	return tok.Decode(tokens[:maxTokens])
}

// Tail keeps the last n tokens of text.
func Tail(tok Tokenizer, text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := tok.Encode(text)
	if len(tokens) <= n {
		return text
	}
	return tok.Decode(tokens[len(tokens)-n:])
}
