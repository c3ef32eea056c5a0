// Package chunker splits parsed sections into token-bounded retrieval chunks.
package chunker

import (
	"regexp"
	"strings"

	"docqa/internal/models"
	"docqa/internal/tokenizer"
)

const (
	DefaultMaxTokens     = 512
	DefaultOverlapTokens = 50
)

var clausePattern = regexp.MustCompile(`(?i)^(?:(?:Article|Section|Clause|Part)\s+)?(\d+(?:\.\d+)*)`)

type Chunker struct {
	tok tokenizer.Tokenizer
}

func New(tok tokenizer.Tokenizer) *Chunker {
	return &Chunker{tok: tok}
}

// run carries the state shared by every section of one document.
type run struct {
	c         *Chunker
	maxTokens int
	overlap   int
	prev      string
	out       []models.ChunkData
}

// Chunk walks sections in order. Every chunk holds at most maxTokens tokens,
// chunk indexes are dense from zero, and the overlap carried into chunk k+1
// is the tail of chunk k's own text.
func (c *Chunker) Chunk(sections []models.ParsedSection, maxTokens, overlapTokens int) []models.ChunkData {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		overlapTokens = 0
	}
	r := &run{c: c, maxTokens: maxTokens, overlap: overlapTokens, out: make([]models.ChunkData, 0, len(sections))}
	for _, s := range sections {
		text := strings.TrimSpace(s.Content)
		if text == "" {
			continue
		}
		if c.tok.Count(text) <= maxTokens {
			r.emit(s, text)
			continue
		}
		r.splitSection(s, text)
	}
	return r.out
}

func (r *run) splitSection(s models.ParsedSection, text string) {
	var buf []string
	flush := func() {
		if len(buf) == 0 {
			return
		}
		r.emit(s, strings.Join(buf, " "))
		buf = buf[:0]
	}
	for _, sentence := range SplitSentences(text) {
		if r.c.tok.Count(sentence) > r.maxTokens {
			flush()
			r.forceSplit(s, sentence)
			continue
		}
		if len(buf) > 0 && r.c.tok.Count(strings.Join(append(buf[:len(buf):len(buf)], sentence), " ")) > r.maxTokens {
			flush()
		}
		buf = append(buf, sentence)
	}
	flush()
}

// forceSplit cuts one oversized sentence into token windows, each starting
// overlap tokens before the previous window's end. The first window is
// shortened so the overlap carried from the previous chunk still fits.
func (r *run) forceSplit(s models.ParsedSection, sentence string) {
	tokens := r.c.tok.Encode(sentence)
	size := r.maxTokens
	if r.prev != "" {
		// one token of slack for the joining space
		if room := r.maxTokens - r.c.tok.Count(r.prev) - 1; room > r.overlap {
			size = room
		}
	}
	for start, first := 0, true; start < len(tokens); first = false {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		if part := strings.TrimSpace(r.c.tok.Decode(tokens[start:end])); part != "" {
			if first {
				r.emit(s, part)
			} else {
				r.emitWindow(s, part)
			}
		}
		if end == len(tokens) {
			break
		}
		start = end - r.overlap
		size = r.maxTokens
	}
}

// emit prepends the carried overlap when the result still fits the budget.
func (r *run) emit(s models.ParsedSection, text string) {
	content := text
	if r.prev != "" {
		combined := r.prev + " " + text
		if r.c.tok.Count(combined) <= r.maxTokens {
			content = combined
		}
	}
	r.append(s, content, text)
}

// emitWindow skips the carried overlap: later windows already overlap each other.
func (r *run) emitWindow(s models.ParsedSection, text string) {
	r.append(s, text, text)
}

func (r *run) append(s models.ParsedSection, content, own string) {
	content, count := r.fit(content)
	r.out = append(r.out, models.ChunkData{
		Content:          content,
		ChunkIndex:       len(r.out),
		ChunkType:        s.ChunkType,
		PageNumber:       s.PageNumber,
		SectionTitle:     s.SectionTitle,
		SectionHierarchy: append([]string{}, s.SectionHierarchy...),
		ClauseNumber:     DetectClause(own),
		TokenCount:       count,
	})
	if r.overlap > 0 {
		r.prev = strings.TrimSpace(tokenizer.Tail(r.c.tok, own, r.overlap))
	} else {
		r.prev = ""
	}
}

// fit re-trims content whose decoded form re-encodes to more tokens than the budget.
func (r *run) fit(content string) (string, int) {
	count := r.c.tok.Count(content)
	for count > r.maxTokens {
		tokens := r.c.tok.Encode(content)
		cut := r.maxTokens - (count - r.maxTokens)
		if cut <= 0 || cut >= len(tokens) {
			cut = r.maxTokens - 1
		}
		if cut <= 0 {
			return "", 0
		}
		content = r.c.tok.Decode(tokens[:cut])
		count = r.c.tok.Count(content)
	}
	return content, count
}

// DetectClause returns the leading clause reference of text with its keyword,
// e.g. "Section 4.2" for "Section 4.2 Termination".
func DetectClause(text string) *string {
	m := clausePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil
	}
	return models.StringPtr(strings.TrimSpace(m[0]))
}

// SplitSentences breaks text after '.', '!' or '?' followed by whitespace and
// after every newline. Parts are trimmed and empty parts dropped.
func SplitSentences(text string) []string {
	runes := []rune(text)
	out := make([]string, 0)
	start := 0
	push := func(end int) {
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
		start = end
	}
	for i, ch := range runes {
		switch {
		case ch == '\n':
			push(i + 1)
		case (ch == '.' || ch == '!' || ch == '?') && i+1 < len(runes) && isSpace(runes[i+1]):
			push(i + 1)
		}
	}
	push(len(runes))
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}
