package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/providers"
	"docqa/internal/query"
	"docqa/internal/storage"
	"docqa/internal/util"
	"docqa/internal/workflows"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/mocks"
)

type fakeQuerier struct {
	resp   models.QueryResponse
	err    error
	events []query.Event
	gotReq models.QueryRequest
	gotUID string
}

func (f *fakeQuerier) Ask(_ context.Context, userID string, req models.QueryRequest) (models.QueryResponse, error) {
	f.gotUID, f.gotReq = userID, req
	return f.resp, f.err
}

func (f *fakeQuerier) Stream(_ context.Context, userID string, req models.QueryRequest) (<-chan query.Event, error) {
	f.gotUID, f.gotReq = userID, req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan query.Event, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

type fakeDocs struct {
	docs    map[string]models.Document
	updates []storage.StatusUpdate
}

func (f *fakeDocs) Get(_ context.Context, id string) (models.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	return d, nil
}

func (f *fakeDocs) SetStatus(_ context.Context, u storage.StatusUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func newTestServer(q Querier, docs DocumentStore, tc tclient.Client) http.Handler {
	cfg := config.Defaults()
	return NewServer(cfg, q, docs, tc, nil).Routes()
}

func postQuery(t *testing.T, h http.Handler, body string, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code, body.Error.Message
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeQuerier{}, &fakeDocs{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestQueryJSON(t *testing.T) {
	q := &fakeQuerier{resp: models.QueryResponse{Answer: "Revenue grew [1].", ModelUsed: "gpt-4o", Citations: []models.Citation{{ID: "x", ChunkID: "c1"}}}}
	rec := postQuery(t, newTestServer(q, &fakeDocs{}, nil), `{"workspace_id":"ws","session_id":"s1","question":"How?"}`, "u1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Revenue grew [1].", resp.Answer)
	assert.Equal(t, "u1", q.gotUID)
	assert.Equal(t, "s1", q.gotReq.SessionID)
}

func TestQueryRequiresUser(t *testing.T) {
	rec := postQuery(t, newTestServer(&fakeQuerier{}, &fakeDocs{}, nil), `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	code, _ := decodeError(t, rec)
	assert.Equal(t, "DQ-API-4010", code)
}

func TestQueryErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{util.ErrNoDocumentsSelected, http.StatusBadRequest, "DQ-QRY-4001"},
		{util.ErrNoRelevantContent, http.StatusBadRequest, "DQ-QRY-4002"},
		{fmt.Errorf("workspace ws: %w", util.ErrAccessDenied), http.StatusForbidden, "DQ-QRY-4003"},
		{fmt.Errorf("session s1: %w", util.ErrNotFound), http.StatusNotFound, "DQ-API-4004"},
		{fmt.Errorf("question required: %w", util.ErrInvalidRequest), http.StatusBadRequest, "DQ-API-4001"},
		{fmt.Errorf("embed question: %w", util.ErrRateLimitExceeded), http.StatusTooManyRequests, "DQ-QRY-4029"},
		{fmt.Errorf("generate answer: %w", &providers.StatusError{Provider: "openai", StatusCode: 503}), http.StatusBadGateway, "DQ-QRY-5020"},
		{errors.New("dial tcp 127.0.0.1:5432: connection refused"), http.StatusInternalServerError, "DQ-DB-5002"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := postQuery(t, newTestServer(&fakeQuerier{err: tc.err}, &fakeDocs{}, nil), `{"workspace_id":"ws","session_id":"s1","question":"q"}`, "u1")
			assert.Equal(t, tc.status, rec.Code)
			code, msg := decodeError(t, rec)
			assert.Equal(t, tc.code, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestQueryMalformedJSON(t *testing.T) {
	rec := postQuery(t, newTestServer(&fakeQuerier{}, &fakeDocs{}, nil), `{"workspace_id":`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, msg := decodeError(t, rec)
	assert.Equal(t, "Malformed JSON request body.", msg)
}

func TestQueryStreamSSE(t *testing.T) {
	q := &fakeQuerier{events: []query.Event{
		{Type: query.EventToken, Token: "Hello "},
		{Type: query.EventToken, Token: "line1\nline2"},
		{Type: query.EventCitations, Citations: []models.Citation{}, LatencyMS: 12},
		{Type: query.EventDone},
	}}
	rec := postQuery(t, newTestServer(q, &fakeDocs{}, nil), `{"workspace_id":"ws","session_id":"s1","question":"q","stream":true}`, "u1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	type sse struct{ event, data string }
	var got []sse
	var cur sse
	var dataLines []string
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			cur.data = strings.Join(dataLines, "\n")
			got = append(got, cur)
			cur, dataLines = sse{}, nil
		}
	}
	require.Len(t, got, 4)
	assert.Equal(t, sse{"token", "Hello "}, got[0])
	assert.Equal(t, sse{"token", "line1\nline2"}, got[1])
	assert.Equal(t, "citations", got[2].event)
	assert.JSONEq(t, `{"citations":[],"latency_ms":12}`, got[2].data)
	assert.Equal(t, sse{"done", ""}, got[3])
}

func TestQueryStreamEarlyErrorIsJSON(t *testing.T) {
	rec := postQuery(t, newTestServer(&fakeQuerier{err: util.ErrNoDocumentsSelected}, &fakeDocs{}, nil), `{"workspace_id":"ws","session_id":"s1","question":"q","stream":true}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestProcessStartsWorkflow(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.Document{
		"d1": {ID: "d1", StoragePath: "org/d1.pdf", ProcessingStatus: models.StatusCompleted},
	}}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("ingest-d1")
	run.On("GetRunID").Return("run-1")
	tc := &mocks.Client{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o tclient.StartWorkflowOptions) bool {
		return o.ID == "ingest-d1" && o.TaskQueue == "docqa-ingest"
	}), mock.Anything, workflows.DocumentIngestInput{DocumentID: "d1", StoragePath: "org/d1.pdf"}).Return(run, nil).Once()

	rec := httptest.NewRecorder()
	newTestServer(&fakeQuerier{}, docs, tc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/d1/process", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"workflow_id":"ingest-d1"`)
	require.Len(t, docs.updates, 1)
	assert.Equal(t, models.StatusPending, docs.updates[0].Status)
	tc.AssertExpectations(t)
}

func TestProcessRejectsRunningDocument(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.Document{"d1": {ID: "d1", ProcessingStatus: models.StatusProcessing}}}
	rec := httptest.NewRecorder()
	newTestServer(&fakeQuerier{}, docs, &mocks.Client{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/d1/process", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, docs.updates)
}

func TestProcessUnknownDocument(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeQuerier{}, &fakeDocs{}, &mocks.Client{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/nope/process", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentStatusIncludesLiveStep(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.Document{"d1": {ID: "d1", ProcessingStatus: models.StatusProcessing}}}
	payloads, err := converter.GetDefaultDataConverter().ToPayloads(workflows.DocumentStatus{DocumentID: "d1", CurrentStep: "process", Status: "processing"})
	require.NoError(t, err)
	tc := &mocks.Client{}
	tc.On("QueryWorkflow", mock.Anything, "ingest-d1", "", workflows.QueryGetDocumentStatus).Return(tclient.NewValue(payloads), nil)

	rec := httptest.NewRecorder()
	newTestServer(&fakeQuerier{}, docs, tc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/d1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Document models.Document           `json:"document"`
		Workflow *workflows.DocumentStatus `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.StatusProcessing, body.Document.ProcessingStatus)
	require.NotNil(t, body.Workflow)
	assert.Equal(t, "process", body.Workflow.CurrentStep)
}

func TestDocumentStatusCompletedSkipsWorkflowQuery(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.Document{"d1": {ID: "d1", ProcessingStatus: models.StatusCompleted, PageCount: 3}}}
	tc := &mocks.Client{}
	rec := httptest.NewRecorder()
	newTestServer(&fakeQuerier{}, docs, tc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/d1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"workflow"`)
	tc.AssertNotCalled(t, "QueryWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
