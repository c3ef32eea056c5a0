package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"docqa/internal/models"
	"docqa/internal/util"

	"github.com/jackc/pgx/v5"
)

// StatusUpdate moves a document through the processing state machine.
// Classification and PageCount are only written when non-nil.
type StatusUpdate struct {
	DocumentID     string
	Status         models.ProcessingStatus
	Classification *models.Classification
	PageCount      *int
	ErrorMessage   string
}

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) SetStatus(ctx context.Context, u StatusUpdate) error {
	var classification []byte
	if u.Classification != nil {
		b, err := json.Marshal(u.Classification)
		if err != nil {
			return fmt.Errorf("encode classification: %w", err)
		}
		classification = b
	}
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET
  processing_status = $2,
  processing_error = NULLIF($3, ''),
  classification = COALESCE($4::jsonb, classification),
  page_count = COALESCE($5, page_count),
  processed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE processed_at END,
  updated_at = NOW()
WHERE id = $1`,
		u.DocumentID, string(u.Status), util.SanitizeText(u.ErrorMessage), classification, u.PageCount,
	)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", u.DocumentID, util.ErrNotFound)
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (models.Document, error) {
	var (
		d              models.Document
		status         string
		classification []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
SELECT id::text, organization_id::text, COALESCE(workspace_id::text, ''), COALESCE(title, ''), original_filename,
       storage_path, processing_status, COALESCE(processing_error, ''), classification, COALESCE(page_count, 0),
       created_at, updated_at
FROM documents WHERE id = $1`, id).Scan(
		&d.ID, &d.OrganizationID, &d.WorkspaceID, &d.Title, &d.Filename,
		&d.StoragePath, &status, &d.ErrorMessage, &classification, &d.PageCount,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	d.ProcessingStatus = models.ProcessingStatus(status)
	if len(classification) > 0 && string(classification) != "{}" {
		var c models.Classification
		if err := json.Unmarshal(classification, &c); err == nil {
			d.Classification = &c
		}
	}
	return d, nil
}

// Register inserts a pending document row, or resets an existing one to pending.
func (r *DocumentRepo) Register(ctx context.Context, d models.Document) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO documents (id, organization_id, workspace_id, title, original_filename, storage_path, processing_status)
VALUES ($1, $2, NULLIF($3, '')::uuid, NULLIF($4, ''), $5, $6, 'pending')
ON CONFLICT (id)
DO UPDATE SET
  storage_path = EXCLUDED.storage_path,
  processing_status = 'pending',
  processing_error = NULL,
  updated_at = NOW()`,
		d.ID, d.OrganizationID, d.WorkspaceID, d.Title, d.Filename, d.StoragePath,
	)
	if err != nil {
		return fmt.Errorf("register document: %w", err)
	}
	return nil
}
