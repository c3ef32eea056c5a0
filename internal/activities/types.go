package activities

import "docqa/internal/ingest"

type DocumentInput struct {
	DocumentID string `json:"document_id"`
}

type ProcessDocumentInput struct {
	DocumentID  string `json:"document_id"`
	StoragePath string `json:"storage_path"`
}

type ProcessDocumentOutput struct {
	Outcome ingest.Outcome `json:"outcome"`
}

type MarkCompletedInput struct {
	DocumentID string         `json:"document_id"`
	Outcome    ingest.Outcome `json:"outcome"`
}

type MarkFailedInput struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}
