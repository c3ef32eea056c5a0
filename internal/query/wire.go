package query

import (
	"fmt"
	"log/slog"

	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/providers"
	"docqa/internal/storage"
	"docqa/internal/tokenizer"
	"docqa/internal/vector"
)

// Stack is the configured query path plus the retrieval pieces it is built
// from, which the MCP search tool calls directly.
type Stack struct {
	Orchestrator *Orchestrator
	Embedder     *embedding.Generator
	Searcher     *vector.Searcher
}

func NewStack(cfg config.Config, db *storage.DB, pm *providers.Manager, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tok, err := tokenizer.ForModel(cfg.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	embed := embedding.New(pm.FirstEmbedProvider(), embedding.OptionsFromConfig(cfg), logger)
	search := vector.NewSearcher(db.Pool)
	orch := New(storage.NewSessionRepo(db), search, embed, pm, tok, OptionsFromConfig(cfg), logger)
	return &Stack{Orchestrator: orch, Embedder: embed, Searcher: search}, nil
}
