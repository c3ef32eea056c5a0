package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docqa/internal/config"
	"docqa/internal/ingest"
	"docqa/internal/models"
	"docqa/internal/query"
	"docqa/internal/util"
	"docqa/internal/workflows"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DOCQA_CONFIG_FILE", "")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestParseCommandWritesChunks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("Overview\n\nThe quarterly figures improved across every region.\n\nRisks\n\nSupply costs remain volatile.\n"), 0o644))
	out := filepath.Join(dir, "out", "chunks.jsonl")

	got, err := execute(t, "parse", src, "--out", out, "--chunk-size", "64", "--overlap", "8")
	require.NoError(t, err)
	assert.Contains(t, got, "parser:   text")
	assert.Contains(t, got, "sha256:   ")
	assert.Contains(t, got, "wrote ")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var c models.ChunkData
		require.NoError(t, json.Unmarshal(sc.Bytes(), &c))
		assert.Equal(t, lines, c.ChunkIndex)
		lines++
	}
	assert.Positive(t, lines)
}

func TestParseCommandRejectsBadOverlap(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	parseOut = ""
	_, err := execute(t, "parse", src, "--chunk-size", "10", "--overlap", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")
}

func TestParseCommandUnsupportedFormat(t *testing.T) {
	src := filepath.Join(t.TempDir(), "slides.pptx")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	parseOut = ""
	_, err := execute(t, "parse", src, "--chunk-size", "64", "--overlap", "8")
	require.ErrorIs(t, err, util.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "supported: .pdf, .docx, .xlsx")
	assert.Contains(t, parseCmd.Long, ".md")
}

type fakeQuestioner struct {
	userID string
	req    models.QueryRequest
	resp   models.QueryResponse
	events []query.Event
}

func (f *fakeQuestioner) Ask(_ context.Context, userID string, req models.QueryRequest) (models.QueryResponse, error) {
	f.userID, f.req = userID, req
	return f.resp, nil
}

func (f *fakeQuestioner) Stream(_ context.Context, userID string, req models.QueryRequest) (<-chan query.Event, error) {
	f.userID, f.req = userID, req
	ch := make(chan query.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func useQuestioner(t *testing.T, q questioner) {
	t.Helper()
	old := openQuestioner
	openQuestioner = func(context.Context, config.Config, *slog.Logger) (questioner, func(), error) {
		return q, func() {}, nil
	}
	t.Cleanup(func() { openQuestioner = old })
}

func TestAskCommand(t *testing.T) {
	page := 4
	fq := &fakeQuestioner{resp: models.QueryResponse{
		Answer:    "Rent is due on the first [1].",
		Citations: []models.Citation{{DocumentName: "Lease", PageNumber: &page}},
		ModelUsed: "gpt-4o",
		LatencyMS: 12,
	}}
	useQuestioner(t, fq)
	askStream, askJSON = false, false

	got, err := execute(t, "ask", "When is rent due?", "-w", "ws1", "-s", "s1", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, got, "Rent is due on the first [1].")
	assert.Contains(t, got, "[1] Lease p.4")
	assert.Equal(t, "u1", fq.userID)
	assert.Equal(t, "s1", fq.req.SessionID)
	assert.Equal(t, "When is rent due?", fq.req.Question)
}

func TestAskCommandStream(t *testing.T) {
	fq := &fakeQuestioner{events: []query.Event{
		{Type: query.EventToken, Token: "Yes"},
		{Type: query.EventToken, Token: " [1]."},
		{Type: query.EventCitations, Citations: []models.Citation{{DocumentName: "Policy"}}},
		{Type: query.EventDone},
	}}
	useQuestioner(t, fq)

	got, err := execute(t, "ask", "Covered?", "-w", "ws1", "-s", "s1", "-u", "u1", "--stream")
	askStream = false
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Yes [1]."))
	assert.Contains(t, got, "[1] Policy")
	assert.True(t, fq.req.Stream)
}

func TestAskCommandStreamError(t *testing.T) {
	useQuestioner(t, &fakeQuestioner{events: []query.Event{
		{Type: query.EventToken, Token: "partial"},
		{Type: query.EventError, Err: "upstream provider error"},
	}})
	_, err := execute(t, "ask", "q", "-w", "ws1", "-s", "s1", "-u", "u1", "--stream")
	askStream = false
	require.EqualError(t, err, "upstream provider error")
}

func TestStartIngest(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return(workflows.WorkflowID("doc-1"))
	run.On("GetRunID").Return("run-1")
	c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o tclient.StartWorkflowOptions) bool {
		return o.ID == "ingest-doc-1" && o.TaskQueue == "q"
	}), mock.Anything, workflows.DocumentIngestInput{DocumentID: "doc-1", StoragePath: "org/doc-1.pdf"}).Return(run, nil)

	var buf bytes.Buffer
	ingestCmd.SetOut(&buf)
	t.Cleanup(func() { ingestCmd.SetOut(nil) })
	ingestCmd.SetContext(context.Background())
	ingestWait = false
	require.NoError(t, startIngest(ingestCmd, c, "q", "doc-1", "org/doc-1.pdf"))
	assert.Equal(t, "workflow_id=ingest-doc-1 run_id=run-1\n", buf.String())
	c.AssertExpectations(t)
}

type fakeProcessor struct {
	job ingest.Job
	res ingest.Result
}

func (f *fakeProcessor) Process(_ context.Context, job ingest.Job) ingest.Result {
	f.job = job
	return f.res
}

func useProcessor(t *testing.T, p processor) {
	t.Helper()
	old := openProcessor
	openProcessor = func(context.Context, config.Config, *slog.Logger) (processor, func(), error) {
		return p, func() {}, nil
	}
	t.Cleanup(func() {
		openProcessor = old
		ingestLocal = false
	})
}

func TestIngestLocalProcessesInProcess(t *testing.T) {
	fp := &fakeProcessor{res: ingest.Result{
		Status: models.StatusCompleted,
		Outcome: ingest.Outcome{
			ChunkCount:     12,
			PageCount:      3,
			Classification: models.Classification{DetectedType: "contract"},
		},
	}}
	useProcessor(t, fp)

	got, err := execute(t, "ingest", "doc-1", "org/doc-1.pdf", "--local")
	require.NoError(t, err)
	assert.Equal(t, "status=completed\nchunks=12 pages=3 detected_type=contract\n", got)
	assert.Equal(t, ingest.Job{DocumentID: "doc-1", StoragePath: "org/doc-1.pdf"}, fp.job)
}

func TestIngestLocalReportsFailure(t *testing.T) {
	useProcessor(t, &fakeProcessor{res: ingest.Result{Status: models.StatusFailed, Error: "parse: bad xref"}})

	got, err := execute(t, "ingest", "doc-2", "doc-2.pdf", "--local")
	require.EqualError(t, err, "parse: bad xref")
	assert.Contains(t, got, "status=failed")
}
