package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"docqa/internal/models"
	"docqa/internal/providers"
	"docqa/internal/tokenizer"
	"docqa/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu        sync.Mutex
	accessErr error
	workspace models.Workspace
	session   models.QuerySession
	appendErr error
	appended  [][]models.Message
}

func (f *fakeSessions) CheckAccess(context.Context, string, string) error { return f.accessErr }

func (f *fakeSessions) GetWorkspace(context.Context, string) (models.Workspace, error) {
	return f.workspace, nil
}

func (f *fakeSessions) GetSession(context.Context, string) (models.QuerySession, error) {
	return f.session, nil
}

func (f *fakeSessions) AppendMessages(_ context.Context, _ string, msgs []models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, msgs)
	return f.appendErr
}

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

type fakeSearcher struct {
	results []models.SearchResult
	gotIDs  []string
	gotLim  int
	gotThr  float64
}

func (f *fakeSearcher) SearchByVector(_ context.Context, _ []float32, ids []string, limit int, threshold float64) ([]models.SearchResult, error) {
	f.gotIDs, f.gotLim, f.gotThr = ids, limit, threshold
	return f.results, nil
}

func testSources() []models.SearchResult {
	return []models.SearchResult{
		{Chunk: models.Chunk{ID: "c1", DocumentID: "d1", Content: "Revenue grew 12%.", PageNumber: models.IntPtr(3), SectionTitle: models.StringPtr("Results")}, Similarity: 0.9, DocumentName: "Annual Report"},
		{Chunk: models.Chunk{ID: "c2", DocumentID: "d2", Content: "Headcount is 40."}, Similarity: 0.7, DocumentName: "HR Memo"},
	}
}

type harness struct {
	orch     *Orchestrator
	sessions *fakeSessions
	embed    *mockEmbedder
	search   *fakeSearcher
	slept    []time.Duration
}

func newHarness(t *testing.T, llm providers.LLMProvider) *harness {
	t.Helper()
	h := &harness{
		sessions: &fakeSessions{
			workspace: models.Workspace{ID: "ws"},
			session: models.QuerySession{
				ID:                  "s1",
				WorkspaceID:         "ws",
				SelectedDocumentIDs: []string{"d1", "d2"},
			},
		},
		embed:  &mockEmbedder{},
		search: &fakeSearcher{results: testSources()},
	}
	if llm == nil {
		llm = providers.NewMockProvider(8)
	}
	h.orch = New(h.sessions, h.search, h.embed, llm, tokenizer.NewWords(), Options{
		DefaultModel:      "mock-llm",
		MaxContextTokens:  8000,
		MaxResponseTokens: 2000,
		Temperature:       0.3,
		SearchLimit:       15,
		SearchThreshold:   0.3,
		Retry: providers.Retry{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    60 * time.Second,
			Sleep: func(_ context.Context, d time.Duration) error {
				h.slept = append(h.slept, d)
				return nil
			},
		},
	}, nil)
	return h
}

func request() models.QueryRequest {
	return models.QueryRequest{WorkspaceID: "ws", SessionID: "s1", Question: "How did revenue change?"}
}

func TestAskReturnsAnswerWithCitations(t *testing.T) {
	h := newHarness(t, nil)
	h.embed.On("EmbedOne", mock.Anything, "How did revenue change?").Return([]float32{1, 0}, nil).Once()

	resp, err := h.orch.Ask(context.Background(), "user-1", request())
	require.NoError(t, err)

	assert.Equal(t, "Based on the provided documents [1] [2], this is a deterministic answer to: How did revenue change?", resp.Answer)
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, "c1", resp.Citations[0].ChunkID)
	assert.Equal(t, "Annual Report", resp.Citations[0].DocumentName)
	assert.Equal(t, "mock-llm", resp.ModelUsed)
	assert.Greater(t, resp.TokenUsage.Input, 0)
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(0))

	assert.Equal(t, []string{"d1", "d2"}, h.search.gotIDs)
	assert.Equal(t, 15, h.search.gotLim)
	assert.Equal(t, 0.3, h.search.gotThr)

	require.Len(t, h.sessions.appended, 1)
	msgs := h.sessions.appended[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "user-1", msgs[0].UserID)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, resp.Answer, msgs[1].Content)
	assert.Len(t, msgs[1].Citations, 2)
	assert.Equal(t, "mock-llm", msgs[1].Model)
	h.embed.AssertExpectations(t)
}

func TestAskNoSelectedDocumentsSkipsEmbedding(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.session.SelectedDocumentIDs = nil

	_, err := h.orch.Ask(context.Background(), "user-1", request())
	require.ErrorIs(t, err, util.ErrNoDocumentsSelected)
	h.embed.AssertNotCalled(t, "EmbedOne", mock.Anything, mock.Anything)
	assert.Empty(t, h.sessions.appended)
}

func TestAskStopsOnAccessErrors(t *testing.T) {
	for _, sentinel := range []error{util.ErrAccessDenied, util.ErrNotFound} {
		h := newHarness(t, nil)
		h.sessions.accessErr = sentinel
		_, err := h.orch.Ask(context.Background(), "user-1", request())
		require.ErrorIs(t, err, sentinel)
		h.embed.AssertNotCalled(t, "EmbedOne", mock.Anything, mock.Anything)
	}
}

func TestAskSessionFromOtherWorkspace(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.session.WorkspaceID = "other"
	_, err := h.orch.Ask(context.Background(), "user-1", request())
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestAskNoRelevantContent(t *testing.T) {
	h := newHarness(t, nil)
	h.search.results = nil
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	_, err := h.orch.Ask(context.Background(), "user-1", request())
	require.ErrorIs(t, err, util.ErrNoRelevantContent)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	h := newHarness(t, nil)
	req := request()
	req.Question = "   "
	_, err := h.orch.Ask(context.Background(), "user-1", req)
	require.ErrorIs(t, err, util.ErrInvalidRequest)
}

func TestAskPersistenceFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.appendErr = errors.New("workspace store down")
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	resp, err := h.orch.Ask(context.Background(), "user-1", request())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestStreamTokensMatchAsk(t *testing.T) {
	h := newHarness(t, nil)
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1, 0}, nil)

	resp, err := h.orch.Ask(context.Background(), "user-1", request())
	require.NoError(t, err)

	ch, err := h.orch.Stream(context.Background(), "user-1", request())
	require.NoError(t, err)
	events := collect(t, ch)
	require.GreaterOrEqual(t, len(events), 3)

	var b strings.Builder
	for _, e := range events[:len(events)-2] {
		require.Equal(t, EventToken, e.Type)
		b.WriteString(e.Token)
	}
	assert.Equal(t, resp.Answer, b.String())

	cit := events[len(events)-2]
	require.Equal(t, EventCitations, cit.Type)
	assert.Len(t, cit.Citations, 2)
	var payload struct {
		Citations []models.Citation `json:"citations"`
		LatencyMS int64             `json:"latency_ms"`
	}
	require.NoError(t, json.Unmarshal([]byte(cit.Data()), &payload))
	assert.Len(t, payload.Citations, 2)

	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Equal(t, "", events[len(events)-1].Data())
	require.Len(t, h.sessions.appended, 2)
}

type failingStream struct{}

func (failingStream) Generate(context.Context, providers.ChatRequest) (providers.ChatResponse, error) {
	return providers.ChatResponse{}, errors.New("unused")
}

func (failingStream) Stream(context.Context, providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	ch := make(chan providers.StreamChunk, 2)
	ch <- providers.StreamChunk{Text: "Partial "}
	ch <- providers.StreamChunk{Err: &providers.StatusError{Provider: "openai", StatusCode: 500, Body: "overloaded"}}
	close(ch)
	return ch, nil
}

func TestStreamErrorReplacesCitationsAndDone(t *testing.T) {
	h := newHarness(t, failingStream{})
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	ch, err := h.orch.Stream(context.Background(), "user-1", request())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, EventToken, events[0].Type)
	assert.Equal(t, EventError, events[1].Type)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(events[1].Data()), &payload))
	assert.Contains(t, payload["error"], "overloaded")
	assert.Empty(t, h.sessions.appended)
}

func TestStreamValidationFailsSynchronously(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.session.SelectedDocumentIDs = nil
	ch, err := h.orch.Stream(context.Background(), "user-1", request())
	require.ErrorIs(t, err, util.ErrNoDocumentsSelected)
	assert.Nil(t, ch)
}

func TestStreamCancelledSkipsPersistence(t *testing.T) {
	h := newHarness(t, nil)
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.orch.Stream(ctx, "user-1", request())
	require.NoError(t, err)
	<-ch
	cancel()
	for range ch {
	}
	assert.Empty(t, h.sessions.appended)
}

// flakyLLM fails its first calls with the scripted errors, then behaves like
// the mock backend.
type flakyLLM struct {
	errs  []error
	calls int
	next  *providers.MockProvider
}

func (f *flakyLLM) fail() error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *flakyLLM) Generate(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if err := f.fail(); err != nil {
		return providers.ChatResponse{}, err
	}
	return f.next.Generate(ctx, req)
}

func (f *flakyLLM) Stream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.next.Stream(ctx, req)
}

func TestAskRetriesRateLimitedGenerate(t *testing.T) {
	llm := &flakyLLM{
		errs: []error{&providers.StatusError{Provider: "openai", StatusCode: 429, Body: "rate limited", RetryAfter: 3 * time.Second}},
		next: providers.NewMockProvider(8),
	}
	h := newHarness(t, llm)
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	resp, err := h.orch.Ask(context.Background(), "user-1", request())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, []time.Duration{3 * time.Second}, h.slept)
}

func TestAskGivesUpAfterRetries(t *testing.T) {
	unavailable := &providers.StatusError{Provider: "anthropic", StatusCode: 503, Body: "overloaded"}
	llm := &flakyLLM{errs: []error{unavailable, unavailable, unavailable}, next: providers.NewMockProvider(8)}
	h := newHarness(t, llm)
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	_, err := h.orch.Ask(context.Background(), "user-1", request())
	var exhausted *providers.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, llm.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.slept)
	assert.Empty(t, h.sessions.appended)
}

func TestAskDoesNotRetryPermanentErrors(t *testing.T) {
	llm := &flakyLLM{
		errs: []error{&providers.StatusError{Provider: "openai", StatusCode: 400, Body: "bad request"}},
		next: providers.NewMockProvider(8),
	}
	h := newHarness(t, llm)
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	_, err := h.orch.Ask(context.Background(), "user-1", request())
	require.Error(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.Empty(t, h.slept)
}

func TestStreamRetriesUntilOpened(t *testing.T) {
	llm := &flakyLLM{
		errs: []error{&providers.StatusError{Provider: "openai", StatusCode: 502, Body: "bad gateway"}},
		next: providers.NewMockProvider(8),
	}
	h := newHarness(t, llm)
	h.embed.On("EmbedOne", mock.Anything, mock.Anything).Return([]float32{1}, nil)

	ch, err := h.orch.Stream(context.Background(), "user-1", request())
	require.NoError(t, err)
	events := collect(t, ch)
	require.NotEmpty(t, events)
	var text strings.Builder
	for _, ev := range events {
		require.NotEqual(t, EventError, ev.Type)
		if ev.Type == EventToken {
			text.WriteString(ev.Token)
		}
	}
	assert.NotEmpty(t, text.String())
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Equal(t, []time.Duration{time.Second}, h.slept)
	assert.Equal(t, 2, llm.calls)
}
