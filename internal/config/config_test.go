package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Config{}
	cfg.Storage.Bucket = "uploads-bucket"
	applyDefaults(&cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"general"}, cfg.Intake.AllowedDocumentTypes)
	assert.Equal(t, []string{".pdf"}, cfg.Intake.ContentTypes["application/pdf"])
	assert.Equal(t, []string{".jpg", ".jpeg"}, cfg.Intake.ContentTypes["image/jpeg"])
	assert.Equal(t, 5*time.Minute, cfg.Storage.PresignTTL)
	assert.Equal(t, 6334, cfg.Search.Port)
	assert.Equal(t, 1024, cfg.Search.VectorSize)
	assert.Equal(t, 2000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "amazon.nova-pro-v1:0", cfg.RAG.ModelID)
	assert.Equal(t, 10, cfg.RAG.TopK)
	assert.Equal(t, 5, cfg.RAG.ContextSize)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestApplyDefaults_PreservesSetValues(t *testing.T) {
	cfg := Config{}
	cfg.Server.Port = 9090
	cfg.Ingest.ChunkSize = 500
	cfg.Storage.Bucket = "b"
	applyDefaults(&cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing bucket", func(c *Config) { c.Storage.Bucket = "" }, "storage.bucket"},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad vector size", func(c *Config) { c.Search.VectorSize = 333 }, "vector_size"},
		{"vector size outside model set", func(c *Config) { c.Search.VectorSize = 512 }, "vector_size"},
		{"overlap too large", func(c *Config) { c.Ingest.ChunkOverlap = 3000 }, "chunk_overlap"},
		{"context exceeds top_k", func(c *Config) { c.RAG.ContextSize = 20 }, "context_size"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STORAGE_BUCKET", "env-bucket")
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("SEARCH_VECTOR_SIZE", "384")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-bucket", cfg.Storage.Bucket)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 384, cfg.Search.VectorSize)
}

func TestLoad_RejectsOutsidePath(t *testing.T) {
	_, err := Load("/tmp/evil.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}
