package workflows

type DocumentIngestInput struct {
	DocumentID  string `json:"document_id"`
	StoragePath string `json:"storage_path"`
}

// DocumentStatus is served by the QueryGetDocumentStatus handler while the
// workflow runs.
type DocumentStatus struct {
	DocumentID  string            `json:"document_id"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	ChunkCount  int               `json:"chunk_count"`
	PageCount   int               `json:"page_count"`
	Steps       map[string]string `json:"steps"`
}
