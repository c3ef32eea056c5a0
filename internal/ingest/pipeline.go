// Package ingest turns an uploaded document into embedded, classified chunks
// and drives the document through pending, processing and completed or failed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docqa/internal/models"
	"docqa/internal/objectstore"
	"docqa/internal/parser"
	"docqa/internal/storage"
	"docqa/internal/util"
)

const (
	classifySampleChunks = 5
	classifySampleChars  = 4000
)

type StatusStore interface {
	SetStatus(ctx context.Context, u storage.StatusUpdate) error
}

type ChunkStore interface {
	ReplaceAll(ctx context.Context, documentID string, chunks []models.ChunkData) error
}

type Chunker interface {
	Chunk(sections []models.ParsedSection, maxTokens, overlapTokens int) []models.ChunkData
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Classifier interface {
	Classify(ctx context.Context, sample string) models.Classification
}

type Job struct {
	DocumentID  string `json:"document_id"`
	StoragePath string `json:"storage_path"`
}

// Outcome is what a successful run records on the document.
type Outcome struct {
	ChunkCount     int                   `json:"chunk_count"`
	PageCount      int                   `json:"page_count"`
	Classification models.Classification `json:"classification"`
}

type Result struct {
	Status  models.ProcessingStatus `json:"status"`
	Outcome Outcome                 `json:"outcome"`
	Error   string                  `json:"error,omitempty"`
}

type Pipeline struct {
	Status     StatusStore
	Chunks     ChunkStore
	Objects    objectstore.Store
	Chunker    Chunker
	Embedder   Embedder
	Classifier Classifier

	ChunkSize    int
	ChunkOverlap int

	// ParserFor picks the format parser; parser.ForPath when nil.
	ParserFor func(path string) (parser.Parser, error)
	Logger    *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Process runs the whole state machine for one document. It never returns an
// error: failures are recorded on the document and reported in Result.
func (p *Pipeline) Process(ctx context.Context, job Job) Result {
	if err := p.MarkProcessing(ctx, job.DocumentID); err != nil {
		p.logger().Error("mark processing failed", "document_id", job.DocumentID, "error", err)
		return Result{Status: models.StatusFailed, Error: err.Error()}
	}
	out, err := p.Run(ctx, job)
	if err == nil {
		err = p.MarkCompleted(ctx, job.DocumentID, out)
	}
	if err != nil {
		p.markFailedBestEffort(ctx, job.DocumentID, err.Error())
		return Result{Status: models.StatusFailed, Error: err.Error()}
	}
	return Result{Status: models.StatusCompleted, Outcome: out}
}

func (p *Pipeline) MarkProcessing(ctx context.Context, documentID string) error {
	return p.Status.SetStatus(ctx, storage.StatusUpdate{DocumentID: documentID, Status: models.StatusProcessing})
}

func (p *Pipeline) MarkCompleted(ctx context.Context, documentID string, out Outcome) error {
	classification := out.Classification
	pages := out.PageCount
	return p.Status.SetStatus(ctx, storage.StatusUpdate{
		DocumentID:     documentID,
		Status:         models.StatusCompleted,
		Classification: &classification,
		PageCount:      &pages,
	})
}

func (p *Pipeline) MarkFailed(ctx context.Context, documentID, reason string) error {
	return p.Status.SetStatus(ctx, storage.StatusUpdate{
		DocumentID:   documentID,
		Status:       models.StatusFailed,
		ErrorMessage: reason,
	})
}

func (p *Pipeline) markFailedBestEffort(ctx context.Context, documentID, reason string) {
	if err := p.MarkFailed(ctx, documentID, reason); err != nil {
		p.logger().Error("mark failed did not persist", "document_id", documentID, "error", err)
	}
}

// Run downloads, parses, chunks, embeds, classifies and stores one document.
// It does not touch the document status.
func (p *Pipeline) Run(ctx context.Context, job Job) (Outcome, error) {
	start := time.Now()
	log := p.logger().With("document_id", job.DocumentID)

	local, err := p.Objects.Download(ctx, job.StoragePath)
	if err != nil {
		return Outcome{}, fmt.Errorf("download: %w", err)
	}
	defer p.Objects.Release(local)

	sections, err := p.Parse(ctx, local)
	if err != nil {
		return Outcome{}, err
	}
	if len(sections) == 0 {
		log.Warn("document produced no sections", "storage_path", job.StoragePath)
		return p.empty(ctx, job.DocumentID, 0)
	}

	chunks := p.Chunker.Chunk(sections, p.ChunkSize, p.ChunkOverlap)
	if len(chunks) == 0 {
		return p.empty(ctx, job.DocumentID, PageCount(sections))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		return Outcome{}, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return Outcome{}, fmt.Errorf("embed chunks: got %d vectors for %d chunks: %w", len(vectors), len(chunks), util.ErrUpstream)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	classification := p.Classifier.Classify(ctx, ClassificationSample(chunks))

	if err := p.Chunks.ReplaceAll(ctx, job.DocumentID, chunks); err != nil {
		return Outcome{}, fmt.Errorf("store chunks: %w", err)
	}

	out := Outcome{ChunkCount: len(chunks), PageCount: PageCount(sections), Classification: classification}
	log.Info("document processed",
		"chunks", out.ChunkCount,
		"pages", out.PageCount,
		"detected_type", classification.DetectedType,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// empty drops chunks left by an earlier run so a reprocessed document that
// now yields nothing is not searchable on stale text.
func (p *Pipeline) empty(ctx context.Context, documentID string, pages int) (Outcome, error) {
	if err := p.Chunks.ReplaceAll(ctx, documentID, nil); err != nil {
		return Outcome{}, fmt.Errorf("clear chunks: %w", err)
	}
	return Outcome{Classification: models.DefaultClassification(), PageCount: pages}, nil
}

// Parse selects a parser by extension and runs it. Unsupported extensions
// return an error wrapping util.ErrUnsupportedFormat.
func (p *Pipeline) Parse(ctx context.Context, path string) ([]models.ParsedSection, error) {
	pick := p.ParserFor
	if pick == nil {
		pick = parser.ForPath
	}
	prs, err := pick(path)
	if err != nil {
		return nil, err
	}
	sections, err := prs.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return sections, nil
}

// IsPermanent reports failures that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, util.ErrUnsupportedFormat) || errors.Is(err, util.ErrNoExtractableText)
}

// ClassificationSample joins the first chunks with a space and caps the result.
func ClassificationSample(chunks []models.ChunkData) string {
	n := len(chunks)
	if n > classifySampleChunks {
		n = classifySampleChunks
	}
	parts := make([]string, 0, n)
	for _, c := range chunks[:n] {
		parts = append(parts, c.Content)
	}
	sample, _ := util.TruncateRunes(strings.Join(parts, " "), classifySampleChars)
	return sample
}

// PageCount is the highest page number any section reports, or 0.
func PageCount(sections []models.ParsedSection) int {
	max := 0
	for _, s := range sections {
		if s.PageNumber != nil && *s.PageNumber > max {
			max = *s.PageNumber
		}
	}
	return max
}
