package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"docqa/internal/models"
	"docqa/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRepo reads workspaces and query sessions and appends session messages.
type SessionRepo struct {
	db *DB
}

func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// CheckAccess returns util.ErrNotFound for an unknown workspace and
// util.ErrAccessDenied when the user is not a member.
func (r *SessionRepo) CheckAccess(ctx context.Context, workspaceID, userID string) error {
	var exists, member bool
	err := r.db.Pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM workspaces WHERE id = $1),
       EXISTS (SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2)`,
		workspaceID, userID).Scan(&exists, &member)
	if err != nil {
		return fmt.Errorf("check workspace access: %w", err)
	}
	if !exists {
		return fmt.Errorf("workspace %s: %w", workspaceID, util.ErrNotFound)
	}
	if !member {
		return fmt.Errorf("workspace %s: %w", workspaceID, util.ErrAccessDenied)
	}
	return nil
}

func (r *SessionRepo) GetWorkspace(ctx context.Context, id string) (models.Workspace, error) {
	var (
		w        models.Workspace
		settings []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
SELECT id::text, name, COALESCE(system_prompt, ''), settings FROM workspaces WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.SystemPrompt, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Workspace{}, fmt.Errorf("workspace %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &w.Settings)
	}
	return w, nil
}

// GetSession loads the session with its ordered document selection and
// chronological message history.
func (r *SessionRepo) GetSession(ctx context.Context, id string) (models.QuerySession, error) {
	s := models.QuerySession{ID: id}
	err := r.db.Pool.QueryRow(ctx, `SELECT workspace_id::text FROM query_sessions WHERE id = $1`, id).Scan(&s.WorkspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QuerySession{}, fmt.Errorf("session %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.QuerySession{}, fmt.Errorf("get session: %w", err)
	}

	docRows, err := r.db.Pool.Query(ctx, `
SELECT document_id::text FROM session_documents WHERE session_id = $1 ORDER BY position ASC, document_id ASC`, id)
	if err != nil {
		return models.QuerySession{}, fmt.Errorf("list session documents: %w", err)
	}
	s.SelectedDocumentIDs, err = pgx.CollectRows(docRows, pgx.RowTo[string])
	if err != nil {
		return models.QuerySession{}, fmt.Errorf("scan session documents: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
SELECT id::text, role, content, COALESCE(user_id::text, ''), citations, COALESCE(model_used, ''), created_at
FROM session_messages WHERE session_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return models.QuerySession{}, fmt.Errorf("list session messages: %w", err)
	}
	defer rows.Close()
	s.Messages = make([]models.Message, 0)
	for rows.Next() {
		var (
			m         models.Message
			role      string
			citations []byte
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.UserID, &citations, &m.Model, &m.CreatedAt); err != nil {
			return models.QuerySession{}, fmt.Errorf("scan session message: %w", err)
		}
		m.Role = models.MessageRole(role)
		if len(citations) > 0 {
			_ = json.Unmarshal(citations, &m.Citations)
		}
		s.Messages = append(s.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return models.QuerySession{}, fmt.Errorf("iterate session messages: %w", err)
	}
	return s, nil
}

// AppendMessages inserts msgs in order within one transaction.
func (r *SessionRepo) AppendMessages(ctx context.Context, sessionID string, msgs []models.Message) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx append messages: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		citations := m.Citations
		if citations == nil {
			citations = []models.Citation{}
		}
		raw, err := json.Marshal(citations)
		if err != nil {
			return fmt.Errorf("encode citations: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO session_messages (id, session_id, role, content, user_id, citations, model_used)
VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6::jsonb, NULLIF($7, ''))`,
			m.ID, sessionID, string(m.Role), util.SanitizeText(m.Content), m.UserID, raw, m.Model)
		if err != nil {
			return fmt.Errorf("insert %s message: %w", m.Role, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit messages tx: %w", err)
	}
	return nil
}
