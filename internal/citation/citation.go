// Package citation maps [N] markers in generated answers back to the
// numbered sources the prompt presented.
package citation

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"docqa/internal/models"
	"docqa/internal/util"

	"github.com/google/uuid"
)

const ExcerptChars = 200

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// Extract returns one citation per distinct in-range marker, ordered by first
// appearance. Out-of-range markers are logged and skipped.
func Extract(text string, sources []models.SearchResult, logger *slog.Logger) []models.Citation {
	out := []models.Citation{}
	if len(sources) == 0 {
		return out
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen := map[int]bool{}
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(sources) {
			logger.Warn("citation marker out of range", "marker", m[1], "sources", len(sources))
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		src := sources[n-1]
		out = append(out, models.Citation{
			ID:             uuid.NewString(),
			DocumentID:     src.Chunk.DocumentID,
			DocumentName:   src.DocumentName,
			ChunkID:        src.Chunk.ID,
			PageNumber:     src.Chunk.PageNumber,
			Section:        src.Chunk.SectionTitle,
			Excerpt:        Excerpt(src.Chunk.Content),
			RelevanceScore: src.Similarity,
		})
	}
	return out
}

// Excerpt keeps the first ExcerptChars characters, trimmed, with "..." when cut.
func Excerpt(content string) string {
	head, cut := util.TruncateRunes(content, ExcerptChars)
	head = strings.TrimSpace(head)
	if cut {
		head += "..."
	}
	return head
}
