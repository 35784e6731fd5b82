// Package embeddings generates fixed-dimension vectors for text chunks
// and images via the Bedrock model-inference service.
//
// Every vector comes from one multimodal model that accepts an image, a
// text, or both. Chunks and queries use it in text-only mode, so all
// vectors in a tenant index live in one comparable space. The model
// exposes a closed set of output dimensionalities; any other value is
// rejected before a single external call is made.
package embeddings

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"
)

// MultimodalModelID is the image+text embedding model behind every
// vector the pipeline produces.
const MultimodalModelID = "amazon.titan-embed-image-v1"

// DefaultDimensions is the dimensionality used across the pipeline.
const DefaultDimensions = 1024

// Common errors.
var (
	// ErrInvalidDimensions indicates a dimensionality outside the model's
	// supported set. Returned before any external call.
	ErrInvalidDimensions = errors.New("unsupported embedding dimensions")

	// ErrInvalidInput indicates multimodal input with neither image nor text.
	ErrInvalidInput = errors.New("invalid embedding input")

	// ErrEmptyInput indicates an empty chunk list.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrServiceUnavailable indicates the inference endpoint failed for
	// the whole call.
	ErrServiceUnavailable = errors.New("embedding service unavailable")

	// ErrMalformedResponse indicates the service replied but the response
	// did not carry a usable embedding.
	ErrMalformedResponse = errors.New("malformed embedding response")
)

// multimodalDimensions enumerates supported multimodal-model output sizes.
var multimodalDimensions = map[int]bool{1024: true, 384: true, 256: true}

// ModelInvoker is the subset of the bedrockruntime client used here.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config holds configuration for the embedding generator.
type Config struct {
	// MultimodalModelID overrides the multimodal embedding model.
	MultimodalModelID string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MultimodalModelID == "" {
		c.MultimodalModelID = MultimodalModelID
	}
}

// Generator converts chunks and images into embedding vectors.
type Generator struct {
	client  ModelInvoker
	config  Config
	logger  *zap.Logger
	metrics *Metrics
}

// NewGenerator creates a Generator backed by the given model invoker.
func NewGenerator(client ModelInvoker, config Config, logger *zap.Logger) *Generator {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:  client,
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
	}
}

// titanMultimodalRequest is the request body for the multimodal model.
type titanMultimodalRequest struct {
	InputText       string               `json:"inputText,omitempty"`
	InputImage      string               `json:"inputImage,omitempty"`
	EmbeddingConfig titanEmbeddingConfig `json:"embeddingConfig"`
}

type titanEmbeddingConfig struct {
	OutputEmbeddingLength int `json:"outputEmbeddingLength"`
}

// titanEmbeddingResponse is the response body shared by both models.
type titanEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ItemFailure records one chunk that could not be embedded.
type ItemFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchResult enumerates per-chunk outcomes of a batch embedding call,
// so callers never have to guess which chunk each vector belongs to.
type BatchResult struct {
	// Vectors holds one embedding per succeeded chunk, in input order.
	Vectors [][]float32

	// Succeeded holds the input indices that produced a vector, aligned
	// with Vectors.
	Succeeded []int

	// Failed holds the input indices that were skipped, with reasons.
	Failed []ItemFailure
}

// AlignChunks returns the subset of chunks that actually produced
// embeddings, aligned index-for-index with Vectors.
func (r BatchResult) AlignChunks(chunks []string) []string {
	aligned := make([]string, 0, len(r.Succeeded))
	for _, idx := range r.Succeeded {
		aligned = append(aligned, chunks[idx])
	}
	return aligned
}

// EmbedChunks embeds a list of text chunks with the multimodal model in
// text-only mode, one sequential external call per chunk. Chunk vectors
// therefore live in the same space as query and image vectors. Embedding
// is best-effort per item: a failed chunk is logged, recorded in the
// result and skipped. The call as a whole fails only when the
// dimensionality is unsupported, the input is empty, or no chunk could
// be embedded at all.
func (g *Generator) EmbedChunks(ctx context.Context, chunks []string, dimensions int) (BatchResult, error) {
	start := time.Now()
	var callErr error
	defer func() {
		g.metrics.RecordGeneration(ctx, g.config.MultimodalModelID, "embed_chunks", time.Since(start), len(chunks), callErr)
	}()

	if len(chunks) == 0 {
		callErr = fmt.Errorf("%w: chunk list cannot be empty", ErrEmptyInput)
		return BatchResult{}, callErr
	}
	if !multimodalDimensions[dimensions] {
		callErr = fmt.Errorf("%w: multimodal model supports 1024, 384, 256; got %d", ErrInvalidDimensions, dimensions)
		return BatchResult{}, callErr
	}

	result := BatchResult{}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			callErr = fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
			return BatchResult{}, callErr
		}

		vector, err := g.invokeChunk(ctx, chunk, dimensions)
		if err != nil {
			g.logger.Warn("skipping chunk after embedding failure",
				zap.Int("chunk_index", i),
				zap.Error(err))
			result.Failed = append(result.Failed, ItemFailure{Index: i, Reason: err.Error()})
			continue
		}
		result.Vectors = append(result.Vectors, vector)
		result.Succeeded = append(result.Succeeded, i)
	}

	if len(result.Succeeded) == 0 {
		callErr = fmt.Errorf("%w: all %d chunks failed", ErrServiceUnavailable, len(chunks))
		return BatchResult{}, callErr
	}
	return result, nil
}

// EmbedMultimodal embeds an image, a text, or both with the multimodal
// model, returning a single vector. At least one of image and text must
// be present.
func (g *Generator) EmbedMultimodal(ctx context.Context, image []byte, text string, dimensions int) ([]float32, error) {
	start := time.Now()
	var callErr error
	defer func() {
		g.metrics.RecordGeneration(ctx, g.config.MultimodalModelID, "embed_multimodal", time.Since(start), 1, callErr)
	}()

	if !multimodalDimensions[dimensions] {
		callErr = fmt.Errorf("%w: multimodal model supports 1024, 384, 256; got %d", ErrInvalidDimensions, dimensions)
		return nil, callErr
	}
	if len(image) == 0 && text == "" {
		callErr = fmt.Errorf("%w: at least one of image or text is required", ErrInvalidInput)
		return nil, callErr
	}

	req := titanMultimodalRequest{
		InputText:       text,
		EmbeddingConfig: titanEmbeddingConfig{OutputEmbeddingLength: dimensions},
	}
	if len(image) > 0 {
		req.InputImage = base64.StdEncoding.EncodeToString(image)
	}

	vector, err := g.invoke(ctx, g.config.MultimodalModelID, req)
	if err != nil {
		callErr = err
		return nil, callErr
	}
	return vector, nil
}

// EmbedQuery embeds a question for retrieval. Queries use the multimodal
// model in text-only mode so query vectors live in the same space as
// indexed image and text content.
func (g *Generator) EmbedQuery(ctx context.Context, question string) ([]float32, error) {
	return g.EmbedMultimodal(ctx, nil, question, DefaultDimensions)
}

// invokeChunk performs one text-only multimodal call for a single chunk.
func (g *Generator) invokeChunk(ctx context.Context, chunk string, dimensions int) ([]float32, error) {
	req := titanMultimodalRequest{
		InputText:       chunk,
		EmbeddingConfig: titanEmbeddingConfig{OutputEmbeddingLength: dimensions},
	}
	return g.invoke(ctx, g.config.MultimodalModelID, req)
}

// invoke marshals a typed payload, calls the inference endpoint and
// decodes the shared response shape. Transport failures map to
// ErrServiceUnavailable; a decodable reply without an embedding maps to
// ErrMalformedResponse.
func (g *Generator) invoke(ctx context.Context, modelID string, payload any) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: model %s returned no embedding", ErrMalformedResponse, modelID)
	}
	return resp.Embedding, nil
}
