// Package docstore manages per-tenant vector-search indexes and the chunk
// records stored in them.
//
// Each tenant owns exactly one index, created lazily on first ingestion
// and named deterministically from the tenant ID. Every search carries a
// mandatory tenant filter; the filter is the sole mechanism preventing
// cross-tenant reads, so tenant IDs must be validated before they reach
// this package.
package docstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrIndexNotFound is returned when a tenant index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrInvalidIndexName indicates index name validation failure.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyRecords indicates an empty record batch.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrConnectionFailed indicates the search engine is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to search engine")

	// ErrBulkIndex indicates that at least one record in a bulk request
	// failed. Records that succeeded in the same batch are NOT rolled
	// back; inspect the BulkResult for per-record outcomes.
	ErrBulkIndex = errors.New("bulk indexing failed")

	// ErrDimensionMismatch indicates an embedding whose length differs
	// from the index's declared dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Content kinds stored in the content_type field.
const (
	ContentKindText  = "text"
	ContentKindImage = "image"
)

// hashSampleLength is how much record content feeds the identity hash.
const hashSampleLength = 100

// ChunkRecord is the unit of storage: one chunk of searchable content
// with its embedding and metadata.
type ChunkRecord struct {
	TenantID     string    `json:"tenant_id"`
	SourceFile   string    `json:"source_file"`
	DocumentType string    `json:"document_type"`
	FileFormat   string    `json:"file_format"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding"`
	ContentKind  string    `json:"content_type"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Hash         string    `json:"document_hash"`
}

// RecordFailure records one chunk record that could not be indexed.
type RecordFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BulkResult enumerates per-record outcomes of a bulk index call.
type BulkResult struct {
	// Indexed holds the batch indices of persisted records.
	Indexed []int

	// Failed holds the batch indices that were rejected, with reasons.
	Failed []RecordFailure
}

// SearchHit is one ranked result of a tenant-scoped similarity search.
type SearchHit struct {
	Content      string    `json:"content"`
	SourceFile   string    `json:"source_file"`
	DocumentType string    `json:"document_type"`
	ChunkIndex   int       `json:"chunk_index"`
	CreatedAt    time.Time `json:"created_at"`
	Hash         string    `json:"document_hash"`
	Score        float32   `json:"score"`
}

// SearchResult is the outcome of a tenant-scoped similarity search.
// An absent tenant index yields an empty result, not an error.
type SearchResult struct {
	Hits       []SearchHit `json:"hits"`
	TotalFound int         `json:"total_found"`
	Index      string      `json:"index_searched"`
}

// RecordSample is a stored record summary returned for verification.
type RecordSample struct {
	ID             string    `json:"document_id"`
	Hash           string    `json:"document_hash"`
	SourceFile     string    `json:"source_file"`
	DocumentType   string    `json:"document_type"`
	FileFormat     string    `json:"file_format"`
	ChunkIndex     int       `json:"chunk_index"`
	ContentPreview string    `json:"content_preview"`
	Dimensions     int       `json:"embedding_dimensions"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the interface the pipeline depends on for index management,
// bulk writes and tenant-scoped search.
type Store interface {
	// EnsureIndex idempotently creates the tenant's index. Re-running it
	// on an existing index succeeds without modifying the mapping.
	EnsureIndex(ctx context.Context, tenantID string) error

	// BulkIndex writes a batch of chunk records to the tenant's index as
	// one combined request. If any record fails the call reports failure
	// even though other records in the batch may have been persisted;
	// the returned BulkResult enumerates both sets. Writes are
	// append-only: re-ingesting the same file accumulates new records.
	BulkIndex(ctx context.Context, tenantID string, records []ChunkRecord) (BulkResult, error)

	// Search performs a similarity search restricted to one tenant, with
	// an optional exact-match document type filter. A tenant with no
	// index yet gets an empty, successful result.
	Search(ctx context.Context, tenantID string, queryVector []float32, topK int, documentType string) (SearchResult, error)

	// Recent returns up to limit most-recent record samples for a tenant
	// plus the tenant's total record count, for operational auditing.
	Recent(ctx context.Context, tenantID string, limit int) ([]RecordSample, int, error)

	// Close releases the store connection.
	Close() error
}

// ContentHash derives the identity hash of a record from its tenant,
// source file, sequence position and a content prefix. It is a
// de-duplication aid, not a primary key.
func ContentHash(tenantID, sourceFile string, chunkIndex int, content string) string {
	sample := content
	if len(sample) > hashSampleLength {
		sample = sample[:hashSampleLength]
	}
	sum := md5.Sum(fmt.Appendf(nil, "%s|%s|%d|%s", tenantID, sourceFile, chunkIndex, sample))
	return hex.EncodeToString(sum[:])
}
