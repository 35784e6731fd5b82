// Package ingest orchestrates the document ingestion pipeline: it routes
// uploaded objects by file format, runs the extract/describe, chunk and
// embed stages and persists the resulting chunk records to the tenant's
// index. Each object is processed exactly once per notification; there
// are no retries at this layer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/docstore"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/objectstore"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

var tracer = otel.Tracer("ragd.ingest")

var (
	// ErrFetchFailed indicates the uploaded object could not be retrieved.
	ErrFetchFailed = errors.New("object fetch failed")

	// ErrPipelineFailed indicates a processing stage failed for the object.
	ErrPipelineFailed = errors.New("ingestion pipeline failed")

	// ErrCountMismatch indicates chunks and embeddings fell out of step
	// before indexing. This is an internal invariant violation.
	ErrCountMismatch = errors.New("chunk and embedding counts diverged")
)

// File formats the pipeline knows how to process. Records store the
// object's actual dotted extension; these constants route processing
// and label metrics.
const (
	FormatPDF  = ".pdf"
	FormatJPEG = ".jpg"
)

// Fetcher retrieves uploaded objects from storage.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Embedder produces embedding vectors for text chunks and images.
type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []string, dimensions int) (embeddings.BatchResult, error)
	EmbedMultimodal(ctx context.Context, image []byte, text string, dimensions int) ([]float32, error)
}

// Describer builds a text description of an image.
type Describer interface {
	Describe(ctx context.Context, image []byte, filename string) string
}

// textExtractor pulls plain text out of a PDF document.
type textExtractor interface {
	PDFText(content []byte) (string, error)
}

// Config holds pipeline parameters.
type Config struct {
	// ChunkSize is the chunk budget in token-approximation units.
	// Default: 2000
	ChunkSize int

	// ChunkOverlap is the overlap between consecutive chunks, in the
	// same units. Default: 200
	ChunkOverlap int

	// Dimensions is the embedding dimensionality. MUST match the
	// document store's declared vector size. Default: 1024
	Dimensions int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.Dimensions == 0 {
		c.Dimensions = 1024
	}
}

// Result reports what happened to one object.
type Result struct {
	Key           string                   `json:"key"`
	TenantID      string                   `json:"tenant_id"`
	SourceFile    string                   `json:"source_file"`
	FileFormat    string                   `json:"file_format"`
	Skipped       bool                     `json:"skipped"`
	SkipReason    string                   `json:"skip_reason,omitempty"`
	ChunksIndexed int                      `json:"chunks_indexed"`
	Failed        []docstore.RecordFailure `json:"failed,omitempty"`
}

// BatchItem pairs one event with its processing outcome.
type BatchItem struct {
	Key    string
	Result Result
	Err    error
}

// Orchestrator runs the ingestion pipeline.
type Orchestrator struct {
	fetcher   Fetcher
	extractor textExtractor
	splitter  *chunker.Chunker
	embedder  Embedder
	describer Describer
	store     docstore.Store
	config    Config
	logger    *zap.Logger
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(fetcher Fetcher, embedder Embedder, describer Describer, store docstore.Store, config Config, logger *zap.Logger) (*Orchestrator, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	splitter, err := chunker.New(config.ChunkSize, config.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	return &Orchestrator{
		fetcher:   fetcher,
		extractor: extract.NewExtractor(logger),
		splitter:  splitter,
		embedder:  embedder,
		describer: describer,
		store:     store,
		config:    config,
		logger:    logger,
	}, nil
}

// ProcessObject ingests one uploaded object identified by its storage
// key. Objects with formats the pipeline does not handle are skipped
// without error, so unrelated uploads never poison event processing.
func (o *Orchestrator) ProcessObject(ctx context.Context, key string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.ProcessObject")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	started := time.Now()

	// Keys outside the uploads/{tenant}/{type}/{file} contract are
	// skipped, not failed: unrelated objects in the bucket must never
	// poison event processing.
	ref, err := tenant.ParseKey(key)
	if err != nil {
		o.logger.Warn("skipping object with malformed key",
			zap.String("key", key),
			zap.Error(err))
		recordProcessed("skipped", "success", time.Since(started))
		span.SetStatus(codes.Ok, "malformed key")
		return Result{Key: key, Skipped: true, SkipReason: err.Error()}, nil
	}
	if err := tenant.ValidateID(ref.TenantID); err != nil {
		o.logger.Warn("skipping object with invalid tenant segment",
			zap.String("key", key),
			zap.Error(err))
		recordProcessed("skipped", "success", time.Since(started))
		span.SetStatus(codes.Ok, "invalid tenant")
		return Result{Key: key, Skipped: true, SkipReason: err.Error()}, nil
	}

	// Records cite the full storage key so sources returned by queries
	// resolve back to the uploaded object.
	result := Result{
		Key:        key,
		TenantID:   ref.TenantID,
		SourceFile: ref.Key,
	}

	ext := tenant.Extension(ref.Filename)
	var format string
	switch ext {
	case ".pdf":
		format = FormatPDF
	case ".jpg", ".jpeg":
		format = FormatJPEG
	default:
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("unsupported format %q", ext)
		o.logger.Info("object skipped",
			zap.String("key", key),
			zap.String("reason", result.SkipReason))
		recordProcessed("skipped", "success", time.Since(started))
		span.SetStatus(codes.Ok, "skipped")
		return result, nil
	}
	result.FileFormat = ext
	span.SetAttributes(attribute.String("format", format))

	content, err := o.fetcher.Fetch(ctx, key)
	if err != nil {
		recordProcessed(format, "error", time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	var records []docstore.ChunkRecord
	switch format {
	case FormatPDF:
		records, err = o.pdfRecords(ctx, ref, content)
	case FormatJPEG:
		records, err = o.imageRecords(ctx, ref, content)
	}
	if err != nil {
		recordProcessed(format, "error", time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	if err := o.store.EnsureIndex(ctx, ref.TenantID); err != nil {
		recordProcessed(format, "error", time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("%w: %v", ErrPipelineFailed, err)
	}

	bulk, err := o.store.BulkIndex(ctx, ref.TenantID, records)
	result.ChunksIndexed = len(bulk.Indexed)
	result.Failed = bulk.Failed
	if err != nil {
		recordProcessed(format, "error", time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("%w: %v", ErrPipelineFailed, err)
	}

	o.logger.Info("object ingested",
		zap.String("tenant_id", ref.TenantID),
		zap.String("source_file", ref.Key),
		zap.String("format", format),
		zap.Int("chunks_indexed", result.ChunksIndexed),
		zap.Duration("duration", time.Since(started)))

	recordProcessed(format, "success", time.Since(started))
	chunksIndexed.Add(float64(result.ChunksIndexed))
	span.SetAttributes(attribute.Int("chunks_indexed", result.ChunksIndexed))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// pdfRecords extracts, chunks and embeds a PDF document. Chunks whose
// embedding failed are dropped, not indexed with placeholders.
func (o *Orchestrator) pdfRecords(ctx context.Context, ref tenant.ObjectRef, content []byte) ([]docstore.ChunkRecord, error) {
	// PDFText already normalizes its output.
	text, err := o.extractor.PDFText(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPipelineFailed, err)
	}

	chunks, err := o.splitter.Split(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPipelineFailed, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced from %s", ErrPipelineFailed, ref.Filename)
	}

	batch, err := o.embedder.EmbedChunks(ctx, chunks, o.config.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPipelineFailed, err)
	}
	if len(batch.Vectors) != len(batch.Succeeded) {
		return nil, ErrCountMismatch
	}
	for _, failure := range batch.Failed {
		o.logger.Warn("chunk embedding failed, dropping chunk",
			zap.String("source_file", ref.Key),
			zap.Int("chunk_index", failure.Index),
			zap.String("reason", failure.Reason))
	}

	records := make([]docstore.ChunkRecord, 0, len(batch.Succeeded))
	for i, chunkIndex := range batch.Succeeded {
		records = append(records, docstore.ChunkRecord{
			TenantID:     ref.TenantID,
			SourceFile:   ref.Key,
			DocumentType: ref.DocumentType,
			FileFormat:   tenant.Extension(ref.Filename),
			ChunkIndex:   chunkIndex,
			Content:      chunks[chunkIndex],
			Embedding:    batch.Vectors[i],
			ContentKind:  docstore.ContentKindText,
		})
	}
	return records, nil
}

// imageRecords describes an image and embeds it as a single multimodal
// record. The description doubles as the searchable text content.
func (o *Orchestrator) imageRecords(ctx context.Context, ref tenant.ObjectRef, content []byte) ([]docstore.ChunkRecord, error) {
	description := o.describer.Describe(ctx, content, ref.Filename)

	vector, err := o.embedder.EmbedMultimodal(ctx, content, description, o.config.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPipelineFailed, err)
	}

	return []docstore.ChunkRecord{{
		TenantID:     ref.TenantID,
		SourceFile:   ref.Key,
		DocumentType: ref.DocumentType,
		FileFormat:   tenant.Extension(ref.Filename),
		ChunkIndex:   0,
		Content:      description,
		Embedding:    vector,
		ContentKind:  docstore.ContentKindImage,
		Description:  description,
	}}, nil
}

// ProcessBatch processes each event independently. One failing object
// never stops the rest of the batch; every item's outcome is reported.
func (o *Orchestrator) ProcessBatch(ctx context.Context, events []objectstore.Event) []BatchItem {
	items := make([]BatchItem, 0, len(events))
	for _, event := range events {
		result, err := o.ProcessObject(ctx, event.Key)
		if err != nil {
			o.logger.Error("event processing failed",
				zap.String("key", event.Key),
				zap.Error(err))
		}
		items = append(items, BatchItem{Key: event.Key, Result: result, Err: err})
	}
	return items
}
