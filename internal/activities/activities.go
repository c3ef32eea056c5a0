package activities

import (
	"context"
	"fmt"
	"log/slog"

	"docqa/internal/chunker"
	"docqa/internal/classify"
	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/ingest"
	"docqa/internal/objectstore"
	"docqa/internal/providers"
	"docqa/internal/storage"
	"docqa/internal/tokenizer"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// ErrTypePermanent tags failures the workflow must not retry.
const ErrTypePermanent = "PermanentIngestFailure"

type Activities struct {
	pipeline *ingest.Pipeline
}

// New wires the ingestion activities around NewPipeline.
func New(cfg config.Config, db *storage.DB, pm *providers.Manager, logger *slog.Logger) (*Activities, error) {
	p, err := NewPipeline(cfg, db, pm, logger)
	if err != nil {
		return nil, err
	}
	return NewWithPipeline(p), nil
}

// NewPipeline builds the ingestion pipeline from configuration: Postgres
// repositories, the configured object store, tiktoken, the embedding backend
// and the classifier routed through pm.
func NewPipeline(cfg config.Config, db *storage.DB, pm *providers.Manager, logger *slog.Logger) (*ingest.Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	objects, err := objectstore.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.ForModel(cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &ingest.Pipeline{
		Status:       storage.NewDocumentRepo(db),
		Chunks:       storage.NewChunkRepo(db),
		Objects:      objects,
		Chunker:      chunker.New(tok),
		Embedder:     embedding.New(pm.FirstEmbedProvider(), embedding.OptionsFromConfig(cfg), logger),
		Classifier:   classify.New(pm, tok, cfg.ClassifierModel, logger),
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Logger:       logger,
	}, nil
}

func NewWithPipeline(p *ingest.Pipeline) *Activities {
	return &Activities{pipeline: p}
}

func (a *Activities) MarkProcessingActivity(ctx context.Context, in DocumentInput) error {
	activity.GetLogger(ctx).Info("document processing", "document_id", in.DocumentID)
	return a.pipeline.MarkProcessing(ctx, in.DocumentID)
}

// ProcessDocumentActivity runs download through chunk replacement. Unsupported
// formats and empty extractions come back as non-retryable application errors.
func (a *Activities) ProcessDocumentActivity(ctx context.Context, in ProcessDocumentInput) (ProcessDocumentOutput, error) {
	out, err := a.pipeline.Run(ctx, ingest.Job{DocumentID: in.DocumentID, StoragePath: in.StoragePath})
	if err != nil {
		activity.GetLogger(ctx).Error("document processing failed", "document_id", in.DocumentID, "error", err)
		if ingest.IsPermanent(err) {
			return ProcessDocumentOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
		}
		return ProcessDocumentOutput{}, err
	}
	return ProcessDocumentOutput{Outcome: out}, nil
}

func (a *Activities) MarkCompletedActivity(ctx context.Context, in MarkCompletedInput) error {
	return a.pipeline.MarkCompleted(ctx, in.DocumentID, in.Outcome)
}

func (a *Activities) MarkFailedActivity(ctx context.Context, in MarkFailedInput) error {
	return a.pipeline.MarkFailed(ctx, in.DocumentID, in.Reason)
}
