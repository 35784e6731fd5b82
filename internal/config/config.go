// Package config provides configuration loading for ragd.
package config

import (
	"fmt"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Intake  IntakeConfig  `koanf:"intake"`
	Storage StorageConfig `koanf:"storage"`
	Search  SearchConfig  `koanf:"search"`
	Bedrock BedrockConfig `koanf:"bedrock"`
	Vision  VisionConfig  `koanf:"vision"`
	Ingest  IngestConfig  `koanf:"ingest"`
	RAG     RAGConfig     `koanf:"rag"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	CORSOrigin      string        `koanf:"cors_origin"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// IntakeConfig holds upload intake settings.
type IntakeConfig struct {
	// AllowedDocumentTypes are the document type segments accepted in
	// upload requests.
	AllowedDocumentTypes []string `koanf:"allowed_document_types"`

	// ContentTypes maps accepted MIME types to the file extensions they
	// may carry. Uploads outside this map are rejected at intake even
	// though only some formats are processed downstream.
	ContentTypes map[string][]string `koanf:"content_types"`
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	Bucket     string        `koanf:"bucket"`
	Region     string        `koanf:"region"`
	PresignTTL time.Duration `koanf:"presign_ttl"`
}

// SearchConfig holds the vector search engine connection settings.
type SearchConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	VectorSize int    `koanf:"vector_size"`
}

// BedrockConfig holds model invocation settings.
type BedrockConfig struct {
	Region string `koanf:"region"`
}

// VisionConfig holds image analysis thresholds.
type VisionConfig struct {
	MaxLabels          int     `koanf:"max_labels"`
	MinLabelConfidence float64 `koanf:"min_label_confidence"`
	MinTextConfidence  float64 `koanf:"min_text_confidence"`
	TopLabels          int     `koanf:"top_labels"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	ChunkSize    int    `koanf:"chunk_size"`
	ChunkOverlap int    `koanf:"chunk_overlap"`
	NATSURL      string `koanf:"nats_url"`
	EventSubject string `koanf:"event_subject"`
}

// RAGConfig holds retrieval and generation settings.
type RAGConfig struct {
	ModelID     string  `koanf:"model_id"`
	TopK        int     `koanf:"top_k"`
	ContextSize int     `koanf:"context_size"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
	TopP        float64 `koanf:"top_p"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration with every default applied and no
// file or environment input. The storage bucket is left unset.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in defaults for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.Intake.AllowedDocumentTypes) == 0 {
		cfg.Intake.AllowedDocumentTypes = []string{"general"}
	}
	if len(cfg.Intake.ContentTypes) == 0 {
		cfg.Intake.ContentTypes = map[string][]string{
			"application/pdf": {".pdf"},
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {".docx"},
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {".xlsx"},
			"application/vnd.openxmlformats-officedocument.presentationml.presentation": {".pptx"},
			"text/csv":                      {".csv"},
			"application/msword":            {".doc"},
			"application/vnd.ms-excel":      {".xls"},
			"application/vnd.ms-powerpoint": {".ppt"},
			"image/jpeg":                    {".jpg", ".jpeg"},
			"image/png":                     {".png"},
			"image/gif":                     {".gif"},
			"image/webp":                    {".webp"},
		}
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.PresignTTL == 0 {
		cfg.Storage.PresignTTL = 5 * time.Minute
	}
	if cfg.Search.Host == "" {
		cfg.Search.Host = "localhost"
	}
	if cfg.Search.Port == 0 {
		cfg.Search.Port = 6334
	}
	if cfg.Search.VectorSize == 0 {
		cfg.Search.VectorSize = 1024
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Vision.MaxLabels == 0 {
		cfg.Vision.MaxLabels = 20
	}
	if cfg.Vision.MinLabelConfidence == 0 {
		cfg.Vision.MinLabelConfidence = 75
	}
	if cfg.Vision.MinTextConfidence == 0 {
		cfg.Vision.MinTextConfidence = 80
	}
	if cfg.Vision.TopLabels == 0 {
		cfg.Vision.TopLabels = 10
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 2000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.NATSURL == "" {
		cfg.Ingest.NATSURL = "nats://localhost:4222"
	}
	if cfg.Ingest.EventSubject == "" {
		cfg.Ingest.EventSubject = "ragd.objects.created"
	}
	if cfg.RAG.ModelID == "" {
		cfg.RAG.ModelID = "amazon.nova-pro-v1:0"
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 10
	}
	if cfg.RAG.ContextSize == 0 {
		cfg.RAG.ContextSize = 5
	}
	if cfg.RAG.MaxTokens == 0 {
		cfg.RAG.MaxTokens = 2000
	}
	if cfg.RAG.Temperature == 0 {
		cfg.RAG.Temperature = 0.1
	}
	if cfg.RAG.TopP == 0 {
		cfg.RAG.TopP = 0.9
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Search.Port <= 0 || c.Search.Port > 65535 {
		return fmt.Errorf("search.port must be 1-65535, got %d", c.Search.Port)
	}
	switch c.Search.VectorSize {
	case 256, 384, 1024:
	default:
		return fmt.Errorf("search.vector_size must be one of 256, 384, 1024, got %d", c.Search.VectorSize)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.RAG.ContextSize > c.RAG.TopK {
		return fmt.Errorf("rag.context_size (%d) cannot exceed rag.top_k (%d)", c.RAG.ContextSize, c.RAG.TopK)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
