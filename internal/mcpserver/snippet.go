package mcpserver

import (
	"sort"
	"strings"

	"docqa/internal/chunker"
	"docqa/internal/util"
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "who": true, "how": true,
	"why": true, "that": true, "this": true, "these": true, "those": true, "with": true,
	"from": true, "does": true, "did": true, "has": true, "have": true, "into": true,
}

// evidenceSnippet picks the sentences of a chunk that mention the most query
// terms, keeping their original order, and caps the result at maxRunes.
func evidenceSnippet(content, query string, maxRunes int) string {
	content = strings.Join(strings.Fields(util.SanitizeText(content)), " ")
	if content == "" {
		return ""
	}
	terms := queryTerms(query)
	sentences := chunker.SplitSentences(content)
	if len(terms) == 0 || len(sentences) < 2 {
		return clip(content, maxRunes)
	}

	type scored struct {
		pos, score int
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		n := 0
		for _, t := range terms {
			if strings.Contains(low, t) {
				n++
			}
		}
		ranked[i] = scored{pos: i, score: n}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if ranked[0].score == 0 {
		return clip(content, maxRunes)
	}
	keep := []int{ranked[0].pos}
	if ranked[1].score > 0 {
		keep = append(keep, ranked[1].pos)
		sort.Ints(keep)
	}
	parts := make([]string, len(keep))
	for i, pos := range keep {
		parts[i] = sentences[pos]
	}
	return clip(strings.Join(parts, " "), maxRunes)
}

func queryTerms(query string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len([]rune(f)) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func clip(s string, maxRunes int) string {
	cut, truncated := util.TruncateRunes(s, maxRunes)
	if truncated {
		return strings.TrimSpace(cut) + "..."
	}
	return cut
}
