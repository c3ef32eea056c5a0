package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docqa/internal/config"
	"docqa/internal/models"
	"docqa/internal/providers"
	"docqa/internal/query"
	"docqa/internal/storage"
	"docqa/internal/util"
	"docqa/internal/workflows"

	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

type Querier interface {
	Ask(ctx context.Context, userID string, req models.QueryRequest) (models.QueryResponse, error)
	Stream(ctx context.Context, userID string, req models.QueryRequest) (<-chan query.Event, error)
}

type DocumentStore interface {
	Get(ctx context.Context, id string) (models.Document, error)
	SetStatus(ctx context.Context, u storage.StatusUpdate) error
}

type Server struct {
	cfg      config.Config
	query    Querier
	docs     DocumentStore
	temporal tclient.Client
	logger   *slog.Logger
}

func NewServer(cfg config.Config, q Querier, docs DocumentStore, tc tclient.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, query: q, docs: docs, temporal: tc, logger: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/documents/", s.handleDocumentsScoped)
	return withCORS(s.withLogging(mux))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeErr(w, http.StatusUnauthorized, fmt.Errorf("missing user id"))
		return
	}
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.Stream {
		s.streamQuery(w, r, userID, req)
		return
	}
	resp, err := s.query.Ask(r.Context(), userID, req)
	if err != nil {
		s.logger.Warn("query failed", "workspace_id", req.WorkspaceID, "session_id", req.SessionID, "error", err)
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamQuery answers as server-sent events. Errors raised before generation
// starts are ordinary JSON error responses.
func (s *Server) streamQuery(w http.ResponseWriter, r *http.Request, userID string, req models.QueryRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	events, err := s.query.Stream(r.Context(), userID, req)
	if err != nil {
		s.logger.Warn("query failed", "workspace_id", req.WorkspaceID, "session_id", req.SessionID, "error", err)
		writeErr(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for e := range events {
		if err := writeSSE(w, string(e.Type), e.Data()); err != nil {
			s.logger.Info("sse client went away", "session_id", req.SessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, err := w.Write([]byte(b.String()))
	return err
}

func (s *Server) handleDocumentsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	documentID := parts[0]

	if len(parts) == 2 && parts[1] == "process" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleProcess(w, r, documentID)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleDocumentStatus(w, r, documentID)
		return
	}
	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

// handleProcess resets the document to pending and starts its ingestion
// workflow. A finished run may be repeated; a running one is a conflict.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, documentID string) {
	doc, err := s.docs.Get(r.Context(), documentID)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	if doc.ProcessingStatus == models.StatusProcessing {
		writeErr(w, http.StatusConflict, fmt.Errorf("document %s is already processing", documentID))
		return
	}
	if err := s.docs.SetStatus(r.Context(), storage.StatusUpdate{DocumentID: documentID, Status: models.StatusPending}); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       workflows.WorkflowID(documentID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.DocumentIngestWorkflow, workflows.DocumentIngestInput{
		DocumentID:  documentID,
		StoragePath: doc.StoragePath,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	s.logger.Info("ingestion started", "document_id", documentID, "workflow_id", we.GetID())
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request, documentID string) {
	doc, err := s.docs.Get(r.Context(), documentID)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	out := map[string]any{"document": doc}
	if doc.ProcessingStatus == models.StatusPending || doc.ProcessingStatus == models.StatusProcessing {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		resp, err := s.temporal.QueryWorkflow(ctx, workflows.WorkflowID(documentID), "", workflows.QueryGetDocumentStatus)
		if err == nil {
			var live workflows.DocumentStatus
			if err := resp.Get(&live); err == nil {
				out["workflow"] = live
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var se *providers.StatusError
	switch {
	case errors.Is(err, util.ErrInvalidRequest),
		errors.Is(err, util.ErrNoDocumentsSelected),
		errors.Is(err, util.ErrNoRelevantContent):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, util.ErrUpstream), errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "DQ-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case errors.Is(err, util.ErrNoDocumentsSelected):
		return apiError{
			Code:    "DQ-QRY-4001",
			Message: "No documents selected in this session. Please select at least one document.",
		}
	case errors.Is(err, util.ErrNoRelevantContent):
		return apiError{
			Code:    "DQ-QRY-4002",
			Message: "No relevant content found in the selected documents for this query.",
		}
	case errors.Is(err, util.ErrAccessDenied):
		return apiError{
			Code:    "DQ-QRY-4003",
			Message: "You do not have access to this workspace.",
		}
	case errors.Is(err, util.ErrRateLimitExceeded):
		return apiError{
			Code:    "DQ-QRY-4029",
			Message: "Embedding provider rate limit exceeded. Retry shortly.",
		}
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{Code: "DQ-QRY-5020", Message: "Upstream provider unavailable. Retry shortly."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "DQ-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "DQ-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "DQ-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "DQ-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusUnauthorized:
		code = "DQ-API-4010"
		msg = "Missing X-User-ID header."
	case status == http.StatusNotFound:
		code = "DQ-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "DQ-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "DQ-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "question are required"):
			msg = "Workspace, session and question are required."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
