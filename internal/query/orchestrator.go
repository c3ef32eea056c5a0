// Package query answers questions over the documents selected in a session:
// retrieve, prompt, generate, cite and persist.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docqa/internal/citation"
	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/providers"
	"docqa/internal/tokenizer"
	"docqa/internal/util"

	"github.com/google/uuid"
)

type SessionStore interface {
	CheckAccess(ctx context.Context, workspaceID, userID string) error
	GetWorkspace(ctx context.Context, id string) (models.Workspace, error)
	GetSession(ctx context.Context, id string) (models.QuerySession, error)
	AppendMessages(ctx context.Context, sessionID string, msgs []models.Message) error
}

type Searcher interface {
	SearchByVector(ctx context.Context, vec []float32, documentIDs []string, limit int, threshold float64) ([]models.SearchResult, error)
}

type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	DefaultModel      string
	MaxContextTokens  int
	MaxResponseTokens int
	Temperature       float64
	SearchLimit       int
	SearchThreshold   float64
	// Retry applies to backends that do not retry on their own.
	Retry providers.Retry
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		DefaultModel:      cfg.LLMModel,
		MaxContextTokens:  cfg.MaxContextTokens,
		MaxResponseTokens: cfg.MaxResponseTokens,
		Temperature:       cfg.Temperature,
		SearchLimit:       cfg.SearchLimit,
		SearchThreshold:   cfg.SearchThreshold,
		Retry:             providers.ChatRetry(cfg),
	}
}

type Orchestrator struct {
	sessions SessionStore
	search   Searcher
	embed    Embedder
	llm      providers.LLMProvider
	tok      tokenizer.Tokenizer
	opts     Options
	logger   *slog.Logger
}

func New(sessions SessionStore, search Searcher, embed Embedder, llm providers.LLMProvider, tok tokenizer.Tokenizer, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.DefaultModel == "" {
		opts.DefaultModel = "gpt-4o"
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 8000
	}
	if opts.MaxResponseTokens <= 0 {
		opts.MaxResponseTokens = 2000
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 15
	}
	if logger == nil {
		logger = slog.Default()
	}
	llm = providers.WithRetry(llm, opts.Retry, logger)
	return &Orchestrator{sessions: sessions, search: search, embed: embed, llm: llm, tok: tok, opts: opts, logger: logger}
}

// prepared is the per-request state shared by Ask and Stream once retrieval
// has produced sources.
type prepared struct {
	userID   string
	req      models.QueryRequest
	model    string
	sources  []models.SearchResult
	messages []providers.ChatMessage
	start    time.Time
}

func (o *Orchestrator) prepare(ctx context.Context, userID string, req models.QueryRequest) (*prepared, error) {
	start := time.Now()
	req.Question = strings.TrimSpace(req.Question)
	if req.WorkspaceID == "" || req.SessionID == "" || req.Question == "" {
		return nil, fmt.Errorf("workspace_id, session_id and question are required: %w", util.ErrInvalidRequest)
	}
	if err := o.sessions.CheckAccess(ctx, req.WorkspaceID, userID); err != nil {
		return nil, err
	}
	workspace, err := o.sessions.GetWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	session, err := o.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.WorkspaceID != "" && session.WorkspaceID != req.WorkspaceID {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, util.ErrNotFound)
	}
	if len(session.SelectedDocumentIDs) == 0 {
		return nil, util.ErrNoDocumentsSelected
	}

	vec, err := o.embed.EmbedOne(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	sources, err := o.search.SearchByVector(ctx, vec, session.SelectedDocumentIDs, o.opts.SearchLimit, o.opts.SearchThreshold)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if len(sources) == 0 {
		return nil, util.ErrNoRelevantContent
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = o.opts.DefaultModel
	}
	return &prepared{
		userID:   userID,
		req:      req,
		model:    model,
		sources:  sources,
		messages: BuildMessages(o.tok, workspace, session, sources, req.Question, o.opts.MaxContextTokens),
		start:    start,
	}, nil
}

func (o *Orchestrator) chatRequest(p *prepared) providers.ChatRequest {
	return providers.ChatRequest{
		Model:       p.model,
		Messages:    p.messages,
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxResponseTokens,
	}
}

// Ask runs the full pipeline and returns the answer with its citations.
func (o *Orchestrator) Ask(ctx context.Context, userID string, req models.QueryRequest) (models.QueryResponse, error) {
	p, err := o.prepare(ctx, userID, req)
	if err != nil {
		return models.QueryResponse{}, err
	}
	resp, err := o.llm.Generate(ctx, o.chatRequest(p))
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("generate answer: %w", err)
	}
	modelUsed := resp.Info.Model
	if modelUsed == "" {
		modelUsed = p.model
	}
	citations := citation.Extract(resp.Text, p.sources, o.logger)
	o.appendMessagesBestEffort(ctx, p, resp.Text, citations, modelUsed)

	return models.QueryResponse{
		Answer:     resp.Text,
		Citations:  citations,
		ModelUsed:  modelUsed,
		TokenUsage: resp.Usage,
		LatencyMS:  time.Since(p.start).Milliseconds(),
	}, nil
}

// Stream validates and retrieves synchronously, then generates in the
// background. The channel yields token events followed by citations and
// done, or a single error event, and is closed afterwards. Cancelling ctx
// stops generation; persistence is skipped for an abandoned stream.
func (o *Orchestrator) Stream(ctx context.Context, userID string, req models.QueryRequest) (<-chan Event, error) {
	p, err := o.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	out := make(chan Event)
	go o.stream(ctx, p, out)
	return out, nil
}

func (o *Orchestrator) stream(ctx context.Context, p *prepared, out chan<- Event) {
	defer close(out)
	send := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		o.logger.Error("streaming answer failed", "session_id", p.req.SessionID, "model", p.model, "error", err)
		send(Event{Type: EventError, Err: err.Error()})
	}

	chunks, err := o.llm.Stream(ctx, o.chatRequest(p))
	if err != nil {
		fail(err)
		return
	}
	var answer strings.Builder
	for c := range chunks {
		if c.Err != nil {
			if errors.Is(c.Err, context.Canceled) && ctx.Err() != nil {
				return
			}
			fail(c.Err)
			return
		}
		if c.Text == "" {
			continue
		}
		answer.WriteString(c.Text)
		if !send(Event{Type: EventToken, Token: c.Text}) {
			return
		}
	}
	if ctx.Err() != nil {
		o.logger.Info("stream abandoned by client", "session_id", p.req.SessionID)
		return
	}

	text := answer.String()
	citations := citation.Extract(text, p.sources, o.logger)
	o.appendMessagesBestEffort(ctx, p, text, citations, p.model)
	if !send(Event{Type: EventCitations, Citations: citations, LatencyMS: time.Since(p.start).Milliseconds()}) {
		return
	}
	send(Event{Type: EventDone})
}

func (o *Orchestrator) appendMessagesBestEffort(ctx context.Context, p *prepared, answer string, citations []models.Citation, model string) {
	msgs := []models.Message{
		{ID: uuid.NewString(), Role: models.RoleUser, Content: p.req.Question, UserID: p.userID},
		{ID: uuid.NewString(), Role: models.RoleAssistant, Content: answer, Citations: citations, Model: model},
	}
	if err := o.sessions.AppendMessages(ctx, p.req.SessionID, msgs); err != nil {
		o.logger.Error("failed to store messages", "session_id", p.req.SessionID, "error", err)
		return
	}
	o.logger.Info("stored user and assistant messages", "session_id", p.req.SessionID)
}
