package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/docstore"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/objectstore"
)

type fakeFetcher struct {
	objects map[string][]byte
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	content, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %s", key)
	}
	return content, nil
}

type fakeEmbedder struct {
	dims      int
	chunkErr  error
	mmErr     error
	failChunk map[int]bool
}

func (f *fakeEmbedder) EmbedChunks(_ context.Context, chunks []string, dimensions int) (embeddings.BatchResult, error) {
	if f.chunkErr != nil {
		return embeddings.BatchResult{}, f.chunkErr
	}
	result := embeddings.BatchResult{}
	for i := range chunks {
		if f.failChunk[i] {
			result.Failed = append(result.Failed, embeddings.ItemFailure{Index: i, Reason: "throttled"})
			continue
		}
		result.Vectors = append(result.Vectors, make([]float32, dimensions))
		result.Succeeded = append(result.Succeeded, i)
	}
	return result, nil
}

func (f *fakeEmbedder) EmbedMultimodal(_ context.Context, _ []byte, _ string, dimensions int) ([]float32, error) {
	if f.mmErr != nil {
		return nil, f.mmErr
	}
	return make([]float32, dimensions), nil
}

type fakeDescriber struct {
	description string
}

func (f *fakeDescriber) Describe(_ context.Context, _ []byte, _ string) string {
	return f.description
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) PDFText(_ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// fakeStore records EnsureIndex and BulkIndex calls in memory.
type fakeStore struct {
	ensured   []string
	indexed   map[string][]docstore.ChunkRecord
	ensureErr error
	bulkErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{indexed: make(map[string][]docstore.ChunkRecord)}
}

func (f *fakeStore) EnsureIndex(_ context.Context, tenantID string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, tenantID)
	return nil
}

func (f *fakeStore) BulkIndex(_ context.Context, tenantID string, records []docstore.ChunkRecord) (docstore.BulkResult, error) {
	if f.bulkErr != nil {
		return docstore.BulkResult{}, f.bulkErr
	}
	f.indexed[tenantID] = append(f.indexed[tenantID], records...)
	result := docstore.BulkResult{}
	for i := range records {
		result.Indexed = append(result.Indexed, i)
	}
	return result, nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ []float32, _ int, _ string) (docstore.SearchResult, error) {
	return docstore.SearchResult{}, nil
}

func (f *fakeStore) Recent(_ context.Context, _ string, _ int) ([]docstore.RecordSample, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) Close() error { return nil }

func newTestOrchestrator(t *testing.T, fetcher *fakeFetcher, embedder *fakeEmbedder, store *fakeStore, extractor textExtractor) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(fetcher, embedder, &fakeDescriber{description: "an invoice photo"}, store, Config{Dimensions: 8}, zap.NewNop())
	require.NoError(t, err)
	if extractor != nil {
		o.extractor = extractor
	}
	return o
}

func TestProcessObject_PDF(t *testing.T) {
	key := "uploads/cliente_abc/general/20260831_deadbeef_report.pdf"
	fetcher := &fakeFetcher{objects: map[string][]byte{key: []byte("%PDF")}}
	store := newFakeStore()
	extractor := &fakeExtractor{text: strings.Repeat("Relevant business text. ", 20)}

	o := newTestOrchestrator(t, fetcher, &fakeEmbedder{}, store, extractor)
	result, err := o.ProcessObject(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, "cliente_abc", result.TenantID)
	assert.Equal(t, key, result.SourceFile)
	assert.Equal(t, ".pdf", result.FileFormat)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.ChunksIndexed)

	assert.Equal(t, []string{"cliente_abc"}, store.ensured)
	records := store.indexed["cliente_abc"]
	require.Len(t, records, 1)
	assert.Equal(t, docstore.ContentKindText, records[0].ContentKind)
	assert.Equal(t, "general", records[0].DocumentType)
	// Sources cite the full storage key, not the bare filename, so a
	// query source resolves back to the uploaded object.
	assert.Equal(t, key, records[0].SourceFile)
	assert.Equal(t, ".pdf", records[0].FileFormat)
	assert.Len(t, records[0].Embedding, 8)
}

func TestProcessObject_PDFDropsFailedChunks(t *testing.T) {
	key := "uploads/cliente_abc/general/20260831_deadbeef_long.pdf"
	// Enough text for several chunks.
	paragraphs := make([]string, 40)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("sentence ", 60)
	}
	fetcher := &fakeFetcher{objects: map[string][]byte{key: []byte("%PDF")}}
	store := newFakeStore()
	extractor := &fakeExtractor{text: strings.Join(paragraphs, "\n\n")}
	embedder := &fakeEmbedder{failChunk: map[int]bool{0: true}}

	o := newTestOrchestrator(t, fetcher, embedder, store, extractor)
	// Small chunks so the text splits.
	small, err := chunker.New(100, 10)
	require.NoError(t, err)
	o.splitter = small

	result, err := o.ProcessObject(context.Background(), key)
	require.NoError(t, err)

	records := store.indexed["cliente_abc"]
	require.NotEmpty(t, records)
	assert.Equal(t, len(records), result.ChunksIndexed)
	// Chunk 0 failed embedding and must not appear.
	for _, record := range records {
		assert.NotEqual(t, 0, record.ChunkIndex)
	}
}

func TestProcessObject_Image(t *testing.T) {
	key := "uploads/cliente_abc/invoices/20260831_deadbeef_scan.jpg"
	fetcher := &fakeFetcher{objects: map[string][]byte{key: {0xFF, 0xD8, 0xFF}}}
	store := newFakeStore()

	o := newTestOrchestrator(t, fetcher, &fakeEmbedder{}, store, nil)
	result, err := o.ProcessObject(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, ".jpg", result.FileFormat)
	assert.Equal(t, 1, result.ChunksIndexed)

	records := store.indexed["cliente_abc"]
	require.Len(t, records, 1)
	assert.Equal(t, docstore.ContentKindImage, records[0].ContentKind)
	assert.Equal(t, "an invoice photo", records[0].Content)
	assert.Equal(t, "an invoice photo", records[0].Description)
	assert.Equal(t, 0, records[0].ChunkIndex)
	assert.Equal(t, key, records[0].SourceFile)
	assert.Equal(t, ".jpg", records[0].FileFormat)
}

func TestProcessObject_JPEGKeepsItsExtension(t *testing.T) {
	key := "uploads/cliente_abc/invoices/20260831_deadbeef_scan.jpeg"
	fetcher := &fakeFetcher{objects: map[string][]byte{key: {0xFF, 0xD8, 0xFF}}}
	store := newFakeStore()

	o := newTestOrchestrator(t, fetcher, &fakeEmbedder{}, store, nil)
	result, err := o.ProcessObject(context.Background(), key)
	require.NoError(t, err)

	// Records store the object's actual extension, not a canonical one.
	assert.Equal(t, ".jpeg", result.FileFormat)
	records := store.indexed["cliente_abc"]
	require.Len(t, records, 1)
	assert.Equal(t, ".jpeg", records[0].FileFormat)
}

func TestProcessObject_UnsupportedFormatSkips(t *testing.T) {
	key := "uploads/cliente_abc/general/20260831_deadbeef_data.csv"
	store := newFakeStore()

	o := newTestOrchestrator(t, &fakeFetcher{}, &fakeEmbedder{}, store, nil)
	result, err := o.ProcessObject(context.Background(), key)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Contains(t, result.SkipReason, ".csv")
	assert.Empty(t, store.ensured)
}

func TestProcessObject_MalformedKeySkipped(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, &fakeFetcher{}, &fakeEmbedder{}, store, nil)

	result, err := o.ProcessObject(context.Background(), "garbage-key")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, store.ensured)
}

func TestProcessObject_InvalidTenantSkipped(t *testing.T) {
	o := newTestOrchestrator(t, &fakeFetcher{}, &fakeEmbedder{}, newFakeStore(), nil)

	result, err := o.ProcessObject(context.Background(), "uploads/BadTenant/general/file.pdf")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestProcessObject_FetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("access denied")}
	o := newTestOrchestrator(t, fetcher, &fakeEmbedder{}, newFakeStore(), nil)

	_, err := o.ProcessObject(context.Background(), "uploads/cliente_abc/general/x.pdf")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestProcessObject_EmbeddingFailure(t *testing.T) {
	key := "uploads/cliente_abc/general/x.pdf"
	fetcher := &fakeFetcher{objects: map[string][]byte{key: []byte("%PDF")}}
	embedder := &fakeEmbedder{chunkErr: fmt.Errorf("model unavailable")}
	extractor := &fakeExtractor{text: "some extracted text"}

	o := newTestOrchestrator(t, fetcher, embedder, newFakeStore(), extractor)
	_, err := o.ProcessObject(context.Background(), key)
	assert.ErrorIs(t, err, ErrPipelineFailed)
}

func TestProcessBatch_ContinuesOnError(t *testing.T) {
	goodKey := "uploads/cliente_abc/general/20260831_deadbeef_ok.jpg"
	fetcher := &fakeFetcher{objects: map[string][]byte{goodKey: {0xFF, 0xD8}}}
	store := newFakeStore()

	o := newTestOrchestrator(t, fetcher, &fakeEmbedder{}, store, nil)
	events := []objectstore.Event{
		{Key: "uploads/cliente_abc/general/20260831_deadbeef_missing.pdf"},
		{Key: goodKey},
	}
	items := o.ProcessBatch(context.Background(), events)
	require.Len(t, items, 2)

	assert.ErrorIs(t, items[0].Err, ErrFetchFailed)
	assert.NoError(t, items[1].Err)
	assert.Equal(t, 1, items[1].Result.ChunksIndexed)
}

func TestConfigDefaults(t *testing.T) {
	config := Config{}
	config.ApplyDefaults()
	assert.Equal(t, 2000, config.ChunkSize)
	assert.Equal(t, 200, config.ChunkOverlap)
	assert.Equal(t, 1024, config.Dimensions)
}
