// Package objectstore adapts the S3 object storage used for raw document
// uploads. It issues short-lived presigned upload URLs, fetches uploaded
// objects for the ingestion pipeline and decodes object-created event
// notifications.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

var (
	// ErrInvalidConfig indicates missing or invalid storage configuration.
	ErrInvalidConfig = errors.New("invalid object store config")

	// ErrObjectNotReadable indicates an uploaded object could not be fetched.
	ErrObjectNotReadable = errors.New("object not readable")

	// ErrMalformedEvent indicates an object-created notification that could
	// not be decoded.
	ErrMalformedEvent = errors.New("malformed storage event")
)

// DefaultPresignTTL is how long a presigned upload URL stays valid.
const DefaultPresignTTL = 5 * time.Minute

// Config holds object storage settings.
type Config struct {
	// Bucket is the upload bucket name.
	Bucket string

	// PresignTTL is the validity window of presigned upload URLs.
	// Default: 5 minutes.
	PresignTTL time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.PresignTTL == 0 {
		c.PresignTTL = DefaultPresignTTL
	}
}

// presignAPI is the subset of the S3 presign client used here.
type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// UploadTarget describes where and how a client should upload a file.
type UploadTarget struct {
	URL       string        `json:"upload_url"`
	Method    string        `json:"method"`
	Key       string        `json:"file_key"`
	Bucket    string        `json:"bucket"`
	ExpiresIn time.Duration `json:"-"`
}

// Store wraps the S3 clients behind the operations the pipeline needs.
type Store struct {
	config  Config
	objects objectAPI
	presign presignAPI
	logger  *zap.Logger
}

// New creates a Store from a configured S3 client.
func New(config Config, client *s3.Client, logger *zap.Logger) (*Store, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newStore(config, client, s3.NewPresignClient(client), logger), nil
}

// newStore wires a Store around explicit API implementations.
func newStore(config Config, objects objectAPI, presign presignAPI, logger *zap.Logger) *Store {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		config:  config,
		objects: objects,
		presign: presign,
		logger:  logger,
	}
}

// PresignUpload returns a presigned PUT target for the given object
// reference and content type. The URL is bound to the exact key and
// content type, so clients cannot redirect an upload elsewhere.
func (s *Store) PresignUpload(ctx context.Context, ref tenant.ObjectRef, contentType string) (UploadTarget, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(ref.Key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.config.PresignTTL))
	if err != nil {
		return UploadTarget{}, fmt.Errorf("presigning upload for %s: %w", ref.Key, err)
	}

	s.logger.Info("presigned upload issued",
		zap.String("tenant_id", ref.TenantID),
		zap.String("key", ref.Key),
		zap.Duration("ttl", s.config.PresignTTL))

	return UploadTarget{
		URL:       req.URL,
		Method:    req.Method,
		Key:       ref.Key,
		Bucket:    s.config.Bucket,
		ExpiresIn: s.config.PresignTTL,
	}, nil
}

// Fetch downloads an uploaded object in full. Ingestion reads whole
// documents, so streaming is not exposed.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrObjectNotReadable, key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrObjectNotReadable, key, err)
	}
	return content, nil
}

// Event is a decoded object-created notification.
type Event struct {
	Bucket string
	Key    string
	Size   int64
}

// s3Notification mirrors the S3 event notification JSON shape.
type s3Notification struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseEvents decodes an object-created notification payload into events.
// Object keys arrive URL-encoded with spaces as plus signs and are
// decoded here. Non-creation records are skipped.
func ParseEvents(payload []byte) ([]Event, error) {
	var notification s3Notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(notification.Records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrMalformedEvent)
	}

	events := make([]Event, 0, len(notification.Records))
	for _, record := range notification.Records {
		if !strings.HasPrefix(record.EventName, "ObjectCreated") {
			continue
		}
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: undecodable key %q: %v", ErrMalformedEvent, record.S3.Object.Key, err)
		}
		events = append(events, Event{
			Bucket: record.S3.Bucket.Name,
			Key:    key,
			Size:   record.S3.Object.Size,
		})
	}
	return events, nil
}
