// Package rag answers questions over a tenant's ingested documents. It
// embeds the question, runs a tenant-scoped similarity search, assembles
// the highest-ranked chunks into a cited context and asks a generation
// model to answer strictly from that context.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/docstore"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

var tracer = otel.Tracer("ragd.rag")

var (
	// ErrInvalidQuestion indicates a question outside the accepted length.
	ErrInvalidQuestion = errors.New("invalid question")

	// ErrEmbeddingFailed indicates the question could not be embedded.
	ErrEmbeddingFailed = errors.New("question embedding failed")

	// ErrSearchFailed indicates the similarity search failed.
	ErrSearchFailed = errors.New("document search failed")

	// ErrGenerationFailed indicates the generation model call failed.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrMalformedGeneration indicates the generation model returned a
	// response that does not match the expected schema.
	ErrMalformedGeneration = errors.New("malformed generation response")
)

// GenerationModelID is the model used for answer synthesis.
const GenerationModelID = "amazon.nova-pro-v1:0"

// Question length bounds in characters.
const (
	MinQuestionLength = 3
	MaxQuestionLength = 2000
)

// snippetLength caps the per-source content snippet.
const snippetLength = 200

// noResultsAnswer is returned when the tenant has no matching documents.
const noResultsAnswer = "I could not find relevant information in your documents to answer that question."

const systemPrompt = `You are an assistant specialized in answering questions based strictly on the information provided in the documents.

INSTRUCTIONS:
- Answer ONLY with information that appears explicitly in the documents
- If there is not enough information, say clearly "I do not have enough information in the provided documents"
- Keep a professional and concise tone
- Cite specific information when relevant
- Never invent information that is not in the documents`

// Config holds retrieval and generation parameters.
type Config struct {
	// ModelID is the generation model. Default: GenerationModelID.
	ModelID string

	// TopK is how many chunks the similarity search retrieves.
	// Default: 10
	TopK int

	// ContextSize is how many of the retrieved chunks feed the
	// generation prompt. Default: 5
	ContextSize int

	// MaxTokens bounds the generated answer. Default: 2000
	MaxTokens int

	// Temperature for generation. Default: 0.1
	Temperature float64

	// TopP for generation. Default: 0.9
	TopP float64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ModelID == "" {
		c.ModelID = GenerationModelID
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.ContextSize == 0 {
		c.ContextSize = 5
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.TopP == 0 {
		c.TopP = 0.9
	}
}

// QueryEmbedder turns a question into a query vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, question string) ([]float32, error)
}

// Searcher is the tenant-scoped similarity search the synthesizer needs.
type Searcher interface {
	Search(ctx context.Context, tenantID string, queryVector []float32, topK int, documentType string) (docstore.SearchResult, error)
}

// Source cites one document chunk that informed the answer.
type Source struct {
	SourceFile     string  `json:"source_file"`
	ContentSnippet string  `json:"content_snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Response is the full answer to one question.
type Response struct {
	Answer                 string   `json:"answer"`
	Sources                []Source `json:"sources"`
	TotalDocumentsSearched int      `json:"total_documents_searched"`
}

// Nova messages-v1 request and response schemas. Decoding into these
// types instead of nested maps makes schema drift a distinct error.
type novaRequest struct {
	SchemaVersion   string              `json:"schemaVersion"`
	System          []novaText          `json:"system"`
	Messages        []novaMessage       `json:"messages"`
	InferenceConfig novaInferenceConfig `json:"inferenceConfig"`
}

type novaText struct {
	Text string `json:"text"`
}

type novaMessage struct {
	Role    string     `json:"role"`
	Content []novaText `json:"content"`
}

type novaInferenceConfig struct {
	MaxTokens     int      `json:"maxTokens"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"topP"`
	StopSequences []string `json:"stopSequences"`
}

type novaResponse struct {
	Output struct {
		Message struct {
			Content []novaText `json:"content"`
		} `json:"message"`
	} `json:"output"`
}

// Synthesizer answers questions from a tenant's document index.
type Synthesizer struct {
	embedder QueryEmbedder
	searcher Searcher
	invoker  embeddings.ModelInvoker
	config   Config
	logger   *zap.Logger
}

// NewSynthesizer wires the query pipeline together.
func NewSynthesizer(embedder QueryEmbedder, searcher Searcher, invoker embeddings.ModelInvoker, config Config, logger *zap.Logger) *Synthesizer {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		embedder: embedder,
		searcher: searcher,
		invoker:  invoker,
		config:   config,
		logger:   logger,
	}
}

// ValidateQuestion checks the question length bounds after trimming.
func ValidateQuestion(question string) error {
	trimmed := strings.TrimSpace(question)
	if len(trimmed) < MinQuestionLength {
		return fmt.Errorf("%w: question must be at least %d characters", ErrInvalidQuestion, MinQuestionLength)
	}
	if len(trimmed) > MaxQuestionLength {
		return fmt.Errorf("%w: question must be at most %d characters", ErrInvalidQuestion, MaxQuestionLength)
	}
	return nil
}

// Answer runs the full query flow for one tenant question. An optional
// documentType narrows the search. A tenant with no matching documents
// gets a fixed answer and zero sources, not an error.
func (s *Synthesizer) Answer(ctx context.Context, tenantID, question, documentType string) (Response, error) {
	ctx, span := tracer.Start(ctx, "Synthesizer.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID))

	if err := tenant.ValidateID(tenantID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	if err := ValidateQuestion(question); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	question = strings.TrimSpace(question)

	started := time.Now()

	queryVector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	result, err := s.searcher.Search(ctx, tenantID, queryVector, s.config.TopK, documentType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	span.SetAttributes(attribute.Int("documents_found", result.TotalFound))

	if len(result.Hits) == 0 {
		span.SetStatus(codes.Ok, "no documents")
		return Response{
			Answer:  noResultsAnswer,
			Sources: []Source{},
		}, nil
	}

	hits := result.Hits
	if len(hits) > s.config.ContextSize {
		hits = hits[:s.config.ContextSize]
	}
	docContext, sources := assembleContext(hits)

	answer, err := s.generate(ctx, question, docContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	s.logger.Info("question answered",
		zap.String("tenant_id", tenantID),
		zap.Int("documents_searched", result.TotalFound),
		zap.Int("sources", len(sources)),
		zap.Duration("duration", time.Since(started)))

	span.SetStatus(codes.Ok, "success")
	return Response{
		Answer:                 answer,
		Sources:                sources,
		TotalDocumentsSearched: result.TotalFound,
	}, nil
}

// assembleContext renders the ranked hits into numbered context blocks
// and the matching source citations.
func assembleContext(hits []docstore.SearchHit) (string, []Source) {
	blocks := make([]string, 0, len(hits))
	sources := make([]Source, 0, len(hits))

	for i, hit := range hits {
		blocks = append(blocks, fmt.Sprintf("[Document %d]: %s", i+1, hit.Content))

		snippet := hit.Content
		if len(snippet) > snippetLength {
			snippet = snippet[:snippetLength] + "..."
		}
		sources = append(sources, Source{
			SourceFile:     hit.SourceFile,
			ContentSnippet: snippet,
			RelevanceScore: roundScore(float64(hit.Score)),
		})
	}
	return strings.Join(blocks, "\n\n"), sources
}

// roundScore rounds a relevance score to three decimals for display.
func roundScore(score float64) float64 {
	return math.Round(score*1000) / 1000
}

// generate asks the generation model for an answer grounded only in the
// assembled context.
func (s *Synthesizer) generate(ctx context.Context, question, documentContext string) (string, error) {
	userPrompt := fmt.Sprintf("DOCUMENT CONTEXT:\n%s\n\nUSER QUESTION:\n%s\n\nANSWER:", documentContext, question)

	payload := novaRequest{
		SchemaVersion: "messages-v1",
		System:        []novaText{{Text: systemPrompt}},
		Messages: []novaMessage{{
			Role:    "user",
			Content: []novaText{{Text: userPrompt}},
		}},
		InferenceConfig: novaInferenceConfig{
			MaxTokens:     s.config.MaxTokens,
			Temperature:   s.config.Temperature,
			TopP:          s.config.TopP,
			StopSequences: []string{"\n\n"},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", ErrGenerationFailed, err)
	}

	out, err := s.invoker.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(s.config.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var decoded novaResponse
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedGeneration, err)
	}
	content := decoded.Output.Message.Content
	if len(content) == 0 {
		return "", fmt.Errorf("%w: empty content", ErrMalformedGeneration)
	}
	answer := strings.TrimSpace(content[0].Text)
	if answer == "" {
		return "", fmt.Errorf("%w: blank answer text", ErrMalformedGeneration)
	}
	return answer, nil
}
