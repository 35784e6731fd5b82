package tenant

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedKey indicates a storage key that does not follow the
// uploads/{tenant}/{document_type}/{filename} layout.
var ErrMalformedKey = errors.New("malformed object key")

// KeyPrefix is the storage prefix under which uploads are written.
const KeyPrefix = "uploads"

// ObjectRef identifies an uploaded object by its parsed key segments.
type ObjectRef struct {
	TenantID     string
	DocumentType string
	Filename     string
	Key          string
}

// GenerateFileKey builds the deterministic storage key for an upload:
// uploads/{tenant}/{document_type}/{date}_{short-id}_{sanitized-filename}.
// Spaces in the filename are replaced with underscores; the short id makes
// repeated uploads of the same filename distinct.
func GenerateFileKey(tenantID, documentType, filename string) string {
	shortID := uuid.New().String()[:8]
	date := time.Now().UTC().Format("20060102")
	safe := strings.ReplaceAll(filename, " ", "_")
	return fmt.Sprintf("%s/%s/%s/%s_%s_%s", KeyPrefix, tenantID, documentType, date, shortID, safe)
}

// ParseKey splits an object key back into its tenant, document type and
// filename segments. Keys with fewer segments than the expected layout
// are rejected with ErrMalformedKey.
func ParseKey(key string) (ObjectRef, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 || parts[0] != KeyPrefix {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	return ObjectRef{
		TenantID:     parts[1],
		DocumentType: parts[2],
		Filename:     parts[len(parts)-1],
		Key:          key,
	}, nil
}

// Extension returns the lowercased dotted extension of a filename,
// or "" when the filename has none.
func Extension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx:])
}
