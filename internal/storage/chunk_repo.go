package storage

import (
	"context"
	"fmt"

	"docqa/internal/models"
	"docqa/internal/util"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ChunkID derives a stable row id from the document, position and content so
// that reprocessing identical input produces identical rows.
func ChunkID(documentID string, index int, content string) string {
	name := fmt.Sprintf("%s:%d:%s", documentID, index, util.SHA256Hex(content))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// ReplaceAll deletes every chunk of the document and inserts chunks in one
// transaction. Running it twice with the same input leaves the same rows.
func (r *ChunkRepo) ReplaceAll(ctx context.Context, documentID string, chunks []models.ChunkData) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx replace chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", documentID, err)
	}
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}
		hierarchy := c.SectionHierarchy
		if hierarchy == nil {
			hierarchy = []string{}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO document_chunks (id, document_id, content, chunk_index, chunk_type, page_number, section_title,
                             section_hierarchy, clause_number, embedding, token_count, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '{}'::jsonb)`,
			ChunkID(documentID, c.ChunkIndex, c.Content), documentID, util.SanitizeText(c.Content), c.ChunkIndex,
			string(c.ChunkType), c.PageNumber, c.SectionTitle, hierarchy, c.ClauseNumber, embedding, c.TokenCount,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", c.ChunkIndex, documentID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id::text, document_id::text, chunk_index, content, chunk_type, page_number, section_title,
       section_hierarchy, clause_number, token_count, created_at
FROM document_chunks
WHERE document_id = $1
ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks by document: %w", err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		var chunkType string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &chunkType, &c.PageNumber, &c.SectionTitle,
			&c.SectionHierarchy, &c.ClauseNumber, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk by document: %w", err)
		}
		c.ChunkType = models.ChunkType(chunkType)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks by document: %w", err)
	}
	return out, nil
}
