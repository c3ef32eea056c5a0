package vector

import (
	"context"
	"fmt"

	"docqa/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const (
	DefaultLimit     = 15
	DefaultThreshold = 0.3
)

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

const searchSQL = `
SELECT c.id::text,
       c.document_id::text,
       c.chunk_index,
       c.content,
       c.chunk_type,
       c.page_number,
       c.section_title,
       c.section_hierarchy,
       c.clause_number,
       c.token_count,
       c.created_at,
       1 - (c.embedding <=> $1::vector) AS similarity,
       COALESCE(NULLIF(d.title, ''), NULLIF(d.original_filename, ''), 'Unknown') AS document_name
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.document_id = ANY($2::uuid[])
  AND c.embedding IS NOT NULL
  AND 1 - (c.embedding <=> $1::vector) >= $3
ORDER BY c.embedding <=> $1::vector
LIMIT $4`

// SearchByVector returns chunks of documentIDs whose cosine similarity to vec
// is at least threshold, best first. An empty documentIDs yields no results.
func (s *Searcher) SearchByVector(ctx context.Context, vec []float32, documentIDs []string, limit int, threshold float64) ([]models.SearchResult, error) {
	if len(documentIDs) == 0 || len(vec) == 0 {
		return []models.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.q.Query(ctx, searchSQL, pgvector.NewVector(vec), documentIDs, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0, limit)
	for rows.Next() {
		var (
			r         models.SearchResult
			chunkType string
			hierarchy []string
		)
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.ChunkIndex, &r.Chunk.Content, &chunkType,
			&r.Chunk.PageNumber, &r.Chunk.SectionTitle, &hierarchy, &r.Chunk.ClauseNumber,
			&r.Chunk.TokenCount, &r.Chunk.CreatedAt, &r.Similarity, &r.DocumentName,
		); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Chunk.ChunkType = models.ChunkType(chunkType)
		if hierarchy == nil {
			hierarchy = []string{}
		}
		r.Chunk.SectionHierarchy = hierarchy
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}
