package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// schemaStatements is applied in order by Migrate; every statement is idempotent.
// EMBED_DIM is replaced with the configured embedding dimension.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS documents (
  id UUID PRIMARY KEY,
  organization_id UUID NOT NULL,
  workspace_id UUID,
  title TEXT,
  original_filename TEXT NOT NULL,
  storage_path TEXT NOT NULL,
  page_count INTEGER,
  classification JSONB NOT NULL DEFAULT '{}'::jsonb,
  processing_status TEXT NOT NULL DEFAULT 'pending',
  processing_error TEXT,
  processed_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS ix_documents_processing_status ON documents (processing_status)`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
  id UUID PRIMARY KEY,
  document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  content TEXT NOT NULL,
  chunk_index INTEGER NOT NULL,
  chunk_type TEXT NOT NULL DEFAULT 'paragraph',
  page_number INTEGER,
  section_title TEXT,
  section_hierarchy TEXT[] NOT NULL DEFAULT '{}',
  clause_number TEXT,
  embedding vector(EMBED_DIM),
  token_count INTEGER NOT NULL DEFAULT 0,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ix_document_chunks_doc_index ON document_chunks (document_id, chunk_index)`,
	`CREATE INDEX IF NOT EXISTS ix_document_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	`CREATE TABLE IF NOT EXISTS workspaces (
  id UUID PRIMARY KEY,
  organization_id UUID NOT NULL,
  name TEXT NOT NULL,
  system_prompt TEXT,
  settings JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS workspace_members (
  workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
  user_id UUID NOT NULL,
  role TEXT NOT NULL DEFAULT 'viewer',
  PRIMARY KEY (workspace_id, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS query_sessions (
  id UUID PRIMARY KEY,
  workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
  title TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS session_documents (
  session_id UUID NOT NULL REFERENCES query_sessions(id) ON DELETE CASCADE,
  document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  position INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (session_id, document_id)
)`,
	`CREATE TABLE IF NOT EXISTS session_messages (
  id UUID PRIMARY KEY,
  session_id UUID NOT NULL REFERENCES query_sessions(id) ON DELETE CASCADE,
  seq BIGSERIAL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  user_id UUID,
  citations JSONB NOT NULL DEFAULT '[]'::jsonb,
  model_used TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS ix_session_messages_session ON session_messages (session_id, seq)`,
}

// Migrate creates the pgvector extension and every table the services use.
func (d *DB) Migrate(ctx context.Context, embedDim int) error {
	if embedDim <= 0 {
		return fmt.Errorf("migrate: embedding dimension must be positive, got %d", embedDim)
	}
	for i, stmt := range SchemaStatements(embedDim) {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

// SchemaStatements renders the DDL for a given embedding dimension.
func SchemaStatements(embedDim int) []string {
	dim := strconv.Itoa(embedDim)
	out := make([]string, len(schemaStatements))
	for i, s := range schemaStatements {
		out[i] = strings.ReplaceAll(s, "EMBED_DIM", dim)
	}
	return out
}
