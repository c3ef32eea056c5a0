package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"docqa/internal/models"
	"docqa/internal/util"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultSearchLimit = 10
	snippetRunes       = 420
)

type AskInput struct {
	WorkspaceID string `json:"workspace_id" jsonschema:"workspace that owns the session"`
	SessionID   string `json:"session_id" jsonschema:"query session whose selected documents are searched"`
	Question    string `json:"question" jsonschema:"the question to answer"`
	Model       string `json:"model,omitempty" jsonschema:"LLM model name, e.g. gpt-4o or claude-3-5-sonnet"`
	UserID      string `json:"user_id,omitempty" jsonschema:"user asking; must be a workspace member"`
}

type AskOutput struct {
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
	ModelUsed string            `json:"model_used"`
	LatencyMS int64             `json:"latency_ms"`
}

type SearchInput struct {
	Query       string   `json:"query" jsonschema:"text to search for"`
	DocumentIDs []string `json:"document_ids" jsonschema:"documents to search within"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
}

type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

type SearchResultOutput struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkID      string  `json:"chunk_id"`
	PageNumber   *int    `json:"page_number,omitempty"`
	Section      *string `json:"section,omitempty"`
	Similarity   float64 `json:"similarity"`
	Snippet      string  `json:"snippet"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_documents",
		Description: "Answer a question from the documents selected in a session, with [N] citations",
	}, s.handleAsk)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Find the passages of the given documents most similar to a query",
	}, s.handleSearch)
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		userID = s.ports.Settings.DefaultUserID
	}
	resp, err := s.ports.Query.Ask(ctx, userID, models.QueryRequest{
		WorkspaceID: input.WorkspaceID,
		SessionID:   input.SessionID,
		Question:    input.Question,
		Model:       input.Model,
	})
	if err != nil {
		return nil, AskOutput{}, err
	}
	return nil, AskOutput{
		Answer:    resp.Answer,
		Citations: resp.Citations,
		ModelUsed: resp.ModelUsed,
		LatencyMS: resp.LatencyMS,
	}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	q := strings.TrimSpace(input.Query)
	if q == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required: %w", util.ErrInvalidRequest)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	vec, err := s.ports.Embed.EmbedOne(ctx, q)
	if err != nil {
		return nil, SearchOutput{}, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.ports.Search.SearchByVector(ctx, vec, input.DocumentIDs, limit, s.ports.Settings.Threshold)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	out := SearchOutput{Results: make([]SearchResultOutput, len(results)), Count: len(results)}
	for i, r := range results {
		snippet := evidenceSnippet(r.Chunk.Content, q, snippetRunes)
		out.Results[i] = SearchResultOutput{
			DocumentID:   r.Chunk.DocumentID,
			DocumentName: r.DocumentName,
			ChunkID:      r.Chunk.ID,
			PageNumber:   r.Chunk.PageNumber,
			Section:      r.Chunk.SectionTitle,
			Similarity:   r.Similarity,
			Snippet:      snippet,
		}
	}
	return nil, out, nil
}
