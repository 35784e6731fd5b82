package docstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("ragd.docstore.qdrant")

// indexNamePattern validates tenant index names.
// Pattern: lowercase letters, numbers, underscores, hyphens, 1-64 characters.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Payload field names of a chunk record.
const (
	fieldTenantID     = "tenant_id"
	fieldContent      = "content"
	fieldDocumentType = "document_type"
	fieldFileFormat   = "file_format"
	fieldSourceFile   = "source_file"
	fieldChunkIndex   = "chunk_index"
	fieldCreatedAt    = "created_at"
	fieldContentKind  = "content_type"
	fieldDescription  = "description"
	fieldHash         = "document_hash"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the search engine hostname or IP address.
	Host string

	// Port is the gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// VectorSize is the declared dimensionality of every tenant index.
	// MUST match the embedding generator's output dimensions.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB, to fit bulk batches of embedding payloads.
	MaxMessageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1024
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// ValidateIndexName validates a tenant index name.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: index name cannot be empty", ErrInvalidIndexName)
	}
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: index name must match pattern ^[a-z0-9_-]{1,64}$, got %q", ErrInvalidIndexName, name)
	}
	return nil
}

// pointsAPI is the subset of the Qdrant client used by the store.
type pointsAPI interface {
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Close() error
}

// QdrantStore is a Store implementation over Qdrant's native gRPC client,
// with one collection per tenant index.
type QdrantStore struct {
	client pointsAPI
	config QdrantConfig
	logger *zap.Logger

	// indexes caches index existence to avoid repeated checks.
	// Key: index name, Value: true.
	indexes sync.Map
}

// NewQdrantStore creates a QdrantStore, connects and health-checks it.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check failed: %v", ErrConnectionFailed, err)
	}

	return newQdrantStore(client, config, logger), nil
}

// newQdrantStore wires a store around an existing client.
func newQdrantStore(client pointsAPI, config QdrantConfig, logger *zap.Logger) *QdrantStore {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureIndex idempotently creates the tenant's index with the fixed
// chunk-record schema. Concurrent creation attempts both succeed: a
// create that loses the race observes AlreadyExists and treats it as
// success. An existing index is never modified.
func (s *QdrantStore) EnsureIndex(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureIndex")
	defer span.End()

	indexName := tenant.IndexName(tenantID)
	span.SetAttributes(attribute.String("index", indexName))

	if err := ValidateIndexName(indexName); err != nil {
		return err
	}

	if _, ok := s.indexes.Load(indexName); ok {
		return nil
	}

	exists, err := s.indexExists(ctx, indexName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking index %s: %w", indexName, err)
	}
	if exists {
		// A collection can exist without its payload schema when a prior
		// create failed partway. Field index creation is idempotent, so
		// it runs before the index is cached as ready.
		if err := s.createFieldIndexes(ctx, indexName); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating field indexes for %s: %w", indexName, err)
		}
		s.indexes.Store(indexName, true)
		span.SetStatus(codes.Ok, "exists")
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: indexName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// A concurrent creator may have won the race. The winner may not
		// have finished declaring field indexes yet; declaring them twice
		// is harmless.
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
			if err := s.createFieldIndexes(ctx, indexName); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("creating field indexes for %s: %w", indexName, err)
			}
			s.indexes.Store(indexName, true)
			span.SetStatus(codes.Ok, "created concurrently")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating index %s: %w", indexName, err)
	}

	if err := s.createFieldIndexes(ctx, indexName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating field indexes for %s: %w", indexName, err)
	}

	s.logger.Info("tenant index created",
		zap.String("index", indexName),
		zap.Uint64("vector_size", s.config.VectorSize))

	s.indexes.Store(indexName, true)
	span.SetStatus(codes.Ok, "created")
	return nil
}

// createFieldIndexes declares the payload schema of a tenant index:
// keyword fields for exact-match filters, an integer chunk index, a
// datetime creation field for recency sorting and full-text fields for
// content and image descriptions.
func (s *QdrantStore) createFieldIndexes(ctx context.Context, indexName string) error {
	fields := []struct {
		name string
		kind qdrant.FieldType
	}{
		{fieldTenantID, qdrant.FieldType_FieldTypeKeyword},
		{fieldDocumentType, qdrant.FieldType_FieldTypeKeyword},
		{fieldFileFormat, qdrant.FieldType_FieldTypeKeyword},
		{fieldSourceFile, qdrant.FieldType_FieldTypeKeyword},
		{fieldContentKind, qdrant.FieldType_FieldTypeKeyword},
		{fieldChunkIndex, qdrant.FieldType_FieldTypeInteger},
		{fieldCreatedAt, qdrant.FieldType_FieldTypeDatetime},
		{fieldContent, qdrant.FieldType_FieldTypeText},
		{fieldDescription, qdrant.FieldType_FieldTypeText},
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: indexName,
			FieldName:      field.name,
			FieldType:      field.kind.Enum(),
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", field.name, err)
		}
	}
	return nil
}

// indexExists checks whether an index exists, mapping gRPC NotFound to
// a plain false.
func (s *QdrantStore) indexExists(ctx context.Context, indexName string) (bool, error) {
	info, err := s.client.GetCollectionInfo(ctx, indexName)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, err
	}
	return info != nil, nil
}

// BulkIndex writes a batch of chunk records as one combined upsert.
// Records with mismatched embedding dimensions are rejected before the
// write and reported per-record; the remaining records are still
// submitted, so a failed call may leave part of the batch persisted.
func (s *QdrantStore) BulkIndex(ctx context.Context, tenantID string, records []ChunkRecord) (BulkResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.BulkIndex")
	defer span.End()

	indexName := tenant.IndexName(tenantID)
	span.SetAttributes(
		attribute.String("index", indexName),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return BulkResult{}, ErrEmptyRecords
	}
	if err := ValidateIndexName(indexName); err != nil {
		return BulkResult{}, err
	}

	now := time.Now().UTC()
	result := BulkResult{}
	points := make([]*qdrant.PointStruct, 0, len(records))
	pointBatch := make([]int, 0, len(records))

	for i, record := range records {
		if len(record.Embedding) != int(s.config.VectorSize) {
			reason := fmt.Sprintf("%v: got %d, index declares %d",
				ErrDimensionMismatch, len(record.Embedding), s.config.VectorSize)
			s.logger.Warn("rejecting record before write",
				zap.String("index", indexName),
				zap.Int("record", i),
				zap.String("reason", reason))
			result.Failed = append(result.Failed, RecordFailure{Index: i, Reason: reason})
			continue
		}

		points = append(points, s.recordPoint(tenantID, record, now))
		pointBatch = append(pointBatch, i)
	}

	if len(points) > 0 {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: indexName,
			Points:         points,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			for _, i := range pointBatch {
				result.Failed = append(result.Failed, RecordFailure{Index: i, Reason: err.Error()})
			}
			return result, fmt.Errorf("%w: upserting %d records to %s: %v", ErrBulkIndex, len(points), indexName, err)
		}
		result.Indexed = pointBatch
	}

	if len(result.Failed) > 0 {
		span.SetStatus(codes.Error, "partial failure")
		return result, fmt.Errorf("%w: %d of %d records failed", ErrBulkIndex, len(result.Failed), len(records))
	}

	span.SetAttributes(attribute.Int("records_indexed", len(result.Indexed)))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// recordPoint converts a chunk record into a Qdrant point with the full
// payload schema and a deterministic content hash.
func (s *QdrantStore) recordPoint(tenantID string, record ChunkRecord, now time.Time) *qdrant.PointStruct {
	hash := record.Hash
	if hash == "" {
		hash = ContentHash(tenantID, record.SourceFile, record.ChunkIndex, record.Content)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	payload := map[string]*qdrant.Value{
		fieldTenantID:     {Kind: &qdrant.Value_StringValue{StringValue: tenantID}},
		fieldContent:      {Kind: &qdrant.Value_StringValue{StringValue: record.Content}},
		fieldDocumentType: {Kind: &qdrant.Value_StringValue{StringValue: record.DocumentType}},
		fieldFileFormat:   {Kind: &qdrant.Value_StringValue{StringValue: record.FileFormat}},
		fieldSourceFile:   {Kind: &qdrant.Value_StringValue{StringValue: record.SourceFile}},
		fieldChunkIndex:   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(record.ChunkIndex)}},
		fieldCreatedAt:    {Kind: &qdrant.Value_StringValue{StringValue: createdAt.Format(time.RFC3339)}},
		fieldContentKind:  {Kind: &qdrant.Value_StringValue{StringValue: record.ContentKind}},
		fieldHash:         {Kind: &qdrant.Value_StringValue{StringValue: hash}},
	}
	if record.Description != "" {
		payload[fieldDescription] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: record.Description}}
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(uuid.New().String()),
		Vectors: qdrant.NewVectors(record.Embedding...),
		Payload: payload,
	}
}

// Search performs a tenant-scoped similarity search. The tenant filter
// is always applied; documentType adds an optional exact-match filter.
// A tenant whose index does not exist yet gets an empty result and no
// error, distinguishing "no data yet" from a search failure.
func (s *QdrantStore) Search(ctx context.Context, tenantID string, queryVector []float32, topK int, documentType string) (SearchResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	indexName := tenant.IndexName(tenantID)
	span.SetAttributes(
		attribute.String("index", indexName),
		attribute.Int("top_k", topK),
	)

	if err := ValidateIndexName(indexName); err != nil {
		return SearchResult{}, err
	}
	if topK <= 0 {
		return SearchResult{}, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(queryVector) != int(s.config.VectorSize) {
		return SearchResult{}, fmt.Errorf("%w: query vector has %d dimensions, index declares %d",
			ErrDimensionMismatch, len(queryVector), s.config.VectorSize)
	}

	if _, ok := s.indexes.Load(indexName); !ok {
		exists, err := s.indexExists(ctx, indexName)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SearchResult{}, fmt.Errorf("checking index %s: %w", indexName, err)
		}
		if !exists {
			span.SetStatus(codes.Ok, "no index yet")
			return SearchResult{Index: indexName}, nil
		}
		s.indexes.Store(indexName, true)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: indexName,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         s.searchFilter(tenantID, documentType),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SearchResult{}, fmt.Errorf("searching index %s: %w", indexName, err)
	}

	result := SearchResult{
		Index:      indexName,
		TotalFound: len(points),
		Hits:       make([]SearchHit, 0, len(points)),
	}
	for _, point := range points {
		result.Hits = append(result.Hits, hitFromPayload(point.Payload, point.Score))
	}

	span.SetAttributes(attribute.Int("results_count", len(result.Hits)))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// searchFilter builds the mandatory tenant filter plus the optional
// document type condition.
func (s *QdrantStore) searchFilter(tenantID, documentType string) *qdrant.Filter {
	conditions := []*qdrant.Condition{
		matchKeyword(fieldTenantID, tenantID),
	}
	if documentType != "" {
		conditions = append(conditions, matchKeyword(fieldDocumentType, documentType))
	}
	return &qdrant.Filter{Must: conditions}
}

// Recent returns up to limit most-recent record samples for a tenant and
// the tenant's total record count. An absent index yields empty results.
func (s *QdrantStore) Recent(ctx context.Context, tenantID string, limit int) ([]RecordSample, int, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Recent")
	defer span.End()

	indexName := tenant.IndexName(tenantID)
	span.SetAttributes(attribute.String("index", indexName))

	if err := ValidateIndexName(indexName); err != nil {
		return nil, 0, err
	}

	info, err := s.client.GetCollectionInfo(ctx, indexName)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			span.SetStatus(codes.Ok, "no index yet")
			return nil, 0, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("inspecting index %s: %w", indexName, err)
	}

	total := 0
	if info.PointsCount != nil {
		total = int(*info.PointsCount)
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: indexName,
		Filter:         s.searchFilter(tenantID, ""),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		OrderBy: &qdrant.OrderBy{
			Key:       fieldCreatedAt,
			Direction: qdrant.Direction_Desc.Enum(),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("sampling index %s: %w", indexName, err)
	}

	samples := make([]RecordSample, 0, len(points))
	for _, point := range points {
		sample := sampleFromPoint(point)
		sample.Dimensions = int(s.config.VectorSize)
		samples = append(samples, sample)
	}

	span.SetAttributes(attribute.Int("samples", len(samples)), attribute.Int("total", total))
	span.SetStatus(codes.Ok, "success")
	return samples, total, nil
}

// matchKeyword builds an exact-match condition on a keyword field.
func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// hitFromPayload converts a scored point payload into a SearchHit.
func hitFromPayload(payload map[string]*qdrant.Value, score float32) SearchHit {
	hit := SearchHit{Score: score}
	hit.Content = payloadString(payload, fieldContent)
	hit.SourceFile = payloadString(payload, fieldSourceFile)
	hit.DocumentType = payloadString(payload, fieldDocumentType)
	hit.Hash = payloadString(payload, fieldHash)
	hit.ChunkIndex = int(payloadInt(payload, fieldChunkIndex))
	if ts, err := time.Parse(time.RFC3339, payloadString(payload, fieldCreatedAt)); err == nil {
		hit.CreatedAt = ts
	}
	return hit
}

// sampleFromPoint converts a retrieved point into a verification sample.
func sampleFromPoint(point *qdrant.RetrievedPoint) RecordSample {
	sample := RecordSample{}
	if id := point.GetId(); id != nil {
		sample.ID = id.GetUuid()
	}
	payload := point.GetPayload()
	sample.Hash = payloadString(payload, fieldHash)
	sample.SourceFile = payloadString(payload, fieldSourceFile)
	sample.DocumentType = payloadString(payload, fieldDocumentType)
	sample.FileFormat = payloadString(payload, fieldFileFormat)
	sample.ChunkIndex = int(payloadInt(payload, fieldChunkIndex))
	sample.ContentPreview = previewContent(payloadString(payload, fieldContent), 150)
	if ts, err := time.Parse(time.RFC3339, payloadString(payload, fieldCreatedAt)); err == nil {
		sample.CreatedAt = ts
	}
	return sample
}

// previewContent truncates content to maxLen with an ellipsis.
func previewContent(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
