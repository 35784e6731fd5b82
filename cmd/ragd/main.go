// Package main implements the ragd daemon: a multi-tenant document
// ingestion and retrieval service over object storage, managed embedding
// models and a vector search engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/docstore"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/objectstore"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/server"
	"github.com/fyrsmithlabs/ragd/internal/vision"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ragd",
	Short:   "Multi-tenant document ingestion and retrieval daemon",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ragd HTTP server and event consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/ragd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ragd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	orchestrator, err := ingest.NewOrchestrator(
		deps.objects,
		deps.embedder,
		deps.describer,
		deps.store,
		ingest.Config{
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
			Dimensions:   cfg.Search.VectorSize,
		},
		logger.Named("ingest"),
	)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	consumer := ingest.NewConsumer(deps.natsConn, orchestrator, cfg.Ingest.EventSubject, logger.Named("consumer"))
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("starting event consumer: %w", err)
	}
	defer func() { _ = consumer.Stop() }()

	synthesizer := rag.NewSynthesizer(deps.embedder, deps.store, deps.bedrock, rag.Config{
		ModelID:     cfg.RAG.ModelID,
		TopK:        cfg.RAG.TopK,
		ContextSize: cfg.RAG.ContextSize,
		MaxTokens:   cfg.RAG.MaxTokens,
		Temperature: cfg.RAG.Temperature,
		TopP:        cfg.RAG.TopP,
	}, logger.Named("rag"))

	srv := server.New(cfg, deps.objects, synthesizer, deps.store, orchestrator, logger.Named("http"))

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("event_subject", cfg.Ingest.EventSubject))

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// dependencies holds all infrastructure clients.
type dependencies struct {
	natsConn  *nats.Conn
	store     *docstore.QdrantStore
	objects   *objectstore.Store
	embedder  *embeddings.Generator
	describer *vision.Describer
	bedrock   *bedrockruntime.Client
	logger    *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// initDependencies connects the daemon to NATS, the vector search
// engine and the cloud services.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	nc, err := nats.Connect(cfg.Ingest.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Ingest.NATSURL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.Ingest.NATSURL))

	store, err := docstore.NewQdrantStore(docstore.QdrantConfig{
		Host:       cfg.Search.Host,
		Port:       cfg.Search.Port,
		UseTLS:     cfg.Search.UseTLS,
		VectorSize: uint64(cfg.Search.VectorSize),
	}, logger.Named("docstore"))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}
	logger.Info("document store initialized",
		zap.String("host", cfg.Search.Host),
		zap.Int("port", cfg.Search.Port),
		zap.Int("vector_size", cfg.Search.VectorSize))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Bedrock.Region))
	if err != nil {
		nc.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	rekognitionClient := rekognition.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Region = cfg.Storage.Region
	})

	objects, err := objectstore.New(objectstore.Config{
		Bucket:     cfg.Storage.Bucket,
		PresignTTL: cfg.Storage.PresignTTL,
	}, s3Client, logger.Named("objectstore"))
	if err != nil {
		nc.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	embedder := embeddings.NewGenerator(bedrockClient, embeddings.Config{}, logger.Named("embeddings"))
	describer := vision.NewDescriber(rekognitionClient, vision.Config{
		MaxLabels:          int32(cfg.Vision.MaxLabels),
		MinLabelConfidence: float32(cfg.Vision.MinLabelConfidence),
		MinTextConfidence:  float32(cfg.Vision.MinTextConfidence),
		TopLabels:          cfg.Vision.TopLabels,
	}, logger.Named("vision"))

	return &dependencies{
		natsConn:  nc,
		store:     store,
		objects:   objects,
		embedder:  embedder,
		describer: describer,
		bedrock:   bedrockClient,
		logger:    logger,
	}, nil
}
