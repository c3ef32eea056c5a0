package models

import "time"

type ChunkType string

const (
	ChunkParagraph ChunkType = "paragraph"
	ChunkHeading   ChunkType = "heading"
	ChunkTable     ChunkType = "table"
)

// ParsedSection is one structural unit emitted by a format parser.
type ParsedSection struct {
	Content          string    `json:"content"`
	PageNumber       *int      `json:"page_number,omitempty"`
	SectionTitle     *string   `json:"section_title,omitempty"`
	SectionHierarchy []string  `json:"section_hierarchy"`
	ChunkType        ChunkType `json:"chunk_type"`
}

// ChunkData is the unit of retrieval produced by the chunker.
type ChunkData struct {
	Content          string    `json:"content"`
	ChunkIndex       int       `json:"chunk_index"`
	ChunkType        ChunkType `json:"chunk_type"`
	PageNumber       *int      `json:"page_number,omitempty"`
	SectionTitle     *string   `json:"section_title,omitempty"`
	SectionHierarchy []string  `json:"section_hierarchy"`
	ClauseNumber     *string   `json:"clause_number,omitempty"`
	TokenCount       int       `json:"token_count"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

// Chunk is a persisted chunk row.
type Chunk struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"document_id"`
	ChunkIndex       int       `json:"chunk_index"`
	Content          string    `json:"content"`
	ChunkType        ChunkType `json:"chunk_type"`
	PageNumber       *int      `json:"page_number,omitempty"`
	SectionTitle     *string   `json:"section_title,omitempty"`
	SectionHierarchy []string  `json:"section_hierarchy"`
	ClauseNumber     *string   `json:"clause_number,omitempty"`
	TokenCount       int       `json:"token_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// SearchResult is a chunk returned by vector search, best first.
type SearchResult struct {
	Chunk        Chunk   `json:"chunk"`
	Similarity   float64 `json:"similarity"`
	DocumentName string  `json:"document_name"`
}

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

type Document struct {
	ID               string           `json:"id"`
	OrganizationID   string           `json:"organization_id"`
	WorkspaceID      string           `json:"workspace_id"`
	Title            string           `json:"title,omitempty"`
	Filename         string           `json:"filename"`
	StoragePath      string           `json:"storage_path"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	Classification   *Classification  `json:"classification,omitempty"`
	PageCount        int              `json:"page_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type DocumentStructure struct {
	HasTOC       bool `json:"has_toc"`
	SectionCount int  `json:"section_count"`
	HasTables    bool `json:"has_tables"`
}

type Classification struct {
	DetectedType   string            `json:"detected_type"`
	Confidence     float64           `json:"confidence"`
	Structure      DocumentStructure `json:"structure"`
	Entities       []string          `json:"entities"`
	DatesMentioned []string          `json:"dates_mentioned"`
}

// DefaultClassification is recorded whenever classification cannot run or fails.
func DefaultClassification() Classification {
	return Classification{
		DetectedType:   "other",
		Confidence:     0,
		Structure:      DocumentStructure{},
		Entities:       []string{},
		DatesMentioned: []string{},
	}
}

type Workspace struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	UserID    string      `json:"user_id,omitempty"`
	Citations []Citation  `json:"citations,omitempty"`
	Model     string      `json:"model,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type QuerySession struct {
	ID                  string    `json:"id"`
	WorkspaceID         string    `json:"workspace_id"`
	SelectedDocumentIDs []string  `json:"selected_document_ids"`
	Messages            []Message `json:"messages"`
}

type Citation struct {
	ID             string  `json:"id"`
	DocumentID     string  `json:"document_id"`
	DocumentName   string  `json:"document_name"`
	ChunkID        string  `json:"chunk_id"`
	PageNumber     *int    `json:"page_number"`
	Section        *string `json:"section"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
}

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type QueryRequest struct {
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`
	Question    string `json:"question"`
	Stream      bool   `json:"stream"`
	Model       string `json:"model,omitempty"`
}

type QueryResponse struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	ModelUsed  string     `json:"model_used"`
	TokenUsage TokenUsage `json:"token_usage"`
	LatencyMS  int64      `json:"latency_ms"`
}

// IntPtr and StringPtr build optional fields inline.
func IntPtr(v int) *int { return &v }

func StringPtr(v string) *string { return &v }
