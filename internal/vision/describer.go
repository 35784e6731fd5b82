// Package vision produces textual descriptions of image content via the
// managed vision-analysis service, so images become searchable through
// the same text-embedding machinery as documents.
package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"
)

// Placeholder phrases used when detection produced nothing usable.
const (
	noObjectsPlaceholder  = "No specific objects were detected"
	noTextPlaceholder     = "No visible text was detected"
	textFailedPlaceholder = "Text in the image could not be analyzed"
)

// ImageAnalyzer is the subset of the vision client used by the Describer.
type ImageAnalyzer interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Config holds detection thresholds.
type Config struct {
	// MaxLabels bounds label detection.
	MaxLabels int32

	// MinLabelConfidence filters detected labels (percent).
	MinLabelConfidence float32

	// MinTextConfidence filters detected text lines (percent). Stricter
	// than the label threshold because OCR noise is worse than label noise.
	MinTextConfidence float32

	// TopLabels bounds how many labels appear in the description.
	TopLabels int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxLabels == 0 {
		c.MaxLabels = 20
	}
	if c.MinLabelConfidence == 0 {
		c.MinLabelConfidence = 75.0
	}
	if c.MinTextConfidence == 0 {
		c.MinTextConfidence = 80.0
	}
	if c.TopLabels == 0 {
		c.TopLabels = 10
	}
}

// Describer converts image bytes into a description document.
type Describer struct {
	client ImageAnalyzer
	config Config
	logger *zap.Logger
}

// NewDescriber creates a Describer backed by the given vision client.
func NewDescriber(client ImageAnalyzer, config Config, logger *zap.Logger) *Describer {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Describer{
		client: client,
		config: config,
		logger: logger,
	}
}

// Describe analyzes an image and composes a single description document
// from detected objects and visible text. Text detection failure is
// tolerated with a placeholder; label detection is the primary signal,
// so its failure produces a fallback description carrying the error
// message instead of an error. An upload therefore always has some text
// to embed.
func (d *Describer) Describe(ctx context.Context, image []byte, filename string) string {
	labels, err := d.detectLabels(ctx, image)
	if err != nil {
		d.logger.Error("image analysis failed, using fallback description",
			zap.String("filename", filename),
			zap.Error(err))
		return fallbackDescription(filename, err)
	}

	textLines, err := d.detectTextLines(ctx, image)
	if err != nil {
		d.logger.Warn("text detection failed, continuing without OCR",
			zap.String("filename", filename),
			zap.Error(err))
		return composeDescription(filename, labels, textFailedPlaceholder)
	}

	textContent := noTextPlaceholder
	if len(textLines) > 0 {
		textContent = strings.Join(textLines, " | ")
	}
	return composeDescription(filename, labels, textContent)
}

// detectLabels runs object/scene detection and formats each label with
// its confidence percentage, truncated to the configured top count.
func (d *Describer) detectLabels(ctx context.Context, image []byte) ([]string, error) {
	out, err := d.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MaxLabels:     aws.Int32(d.config.MaxLabels),
		MinConfidence: aws.Float32(d.config.MinLabelConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("detecting labels: %w", err)
	}

	labels := make([]string, 0, len(out.Labels))
	for _, label := range out.Labels {
		if label.Name == nil || label.Confidence == nil {
			continue
		}
		labels = append(labels, fmt.Sprintf("%s (%.0f%%)", *label.Name, *label.Confidence))
	}
	if len(labels) > d.config.TopLabels {
		labels = labels[:d.config.TopLabels]
	}
	return labels, nil
}

// detectTextLines runs OCR and keeps only line-granularity detections
// above the stricter text confidence threshold.
func (d *Describer) detectTextLines(ctx context.Context, image []byte) ([]string, error) {
	out, err := d.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: image},
	})
	if err != nil {
		return nil, fmt.Errorf("detecting text: %w", err)
	}

	var lines []string
	for _, detection := range out.TextDetections {
		if detection.Type != types.TextTypesLine {
			continue
		}
		if detection.DetectedText == nil || detection.Confidence == nil {
			continue
		}
		if *detection.Confidence < d.config.MinTextConfidence {
			continue
		}
		lines = append(lines, *detection.DetectedText)
	}
	return lines, nil
}

// composeDescription builds the description document indexed for an image.
func composeDescription(filename string, labels []string, textContent string) string {
	objects := noObjectsPlaceholder
	if len(labels) > 0 {
		objects = strings.Join(labels, ", ")
	}

	return fmt.Sprintf(`Image '%s' containing:

DETECTED OBJECTS: %s

VISIBLE TEXT: %s

This image was processed with automatic visual analysis so its content can be queried.`, filename, objects, textContent)
}

// fallbackDescription is indexed when visual analysis failed entirely,
// so the upload is never silently dropped.
func fallbackDescription(filename string, err error) string {
	return fmt.Sprintf(`Image '%s' (automatic analysis failed):

CONTENT: Image uploaded to the system but it could not be analyzed automatically.

ERROR: %v

This image is indexed and can still be found by semantic search.`, filename, err)
}
