// Package tenant provides tenant identifier validation and the naming
// scheme that scopes storage keys and search indexes to a single tenant.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Common errors.
var (
	// ErrInvalidTenantID indicates the tenant ID format is invalid.
	ErrInvalidTenantID = errors.New("invalid tenant ID format")

	// ErrInvalidDocumentType indicates the document type is not allowed.
	ErrInvalidDocumentType = errors.New("invalid document type")

	// ErrInvalidFilename indicates the filename is empty, too long, or
	// contains characters outside the allow-list.
	ErrInvalidFilename = errors.New("invalid filename")
)

// IndexPrefix is the prefix for every tenant search index.
const IndexPrefix = "rag-documents-"

// MaxFilenameLength bounds uploaded filenames.
const MaxFilenameLength = 255

// tenantIDPattern matches valid tenant identifiers: the fixed "cliente_"
// prefix followed by lowercase alphanumerics.
var tenantIDPattern = regexp.MustCompile(`^cliente_[a-z0-9]+$`)

// filenamePattern matches allow-listed filename characters.
var filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateID checks a tenant ID against the required format.
func ValidateID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidTenantID)
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: tenant_id must match format: cliente_[a-z0-9]+", ErrInvalidTenantID)
	}
	return nil
}

// ValidateFilename checks an uploaded filename against the allow-list.
func ValidateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidFilename)
	}
	if len(filename) > MaxFilenameLength {
		return fmt.Errorf("%w: filename too long (max %d characters)", ErrInvalidFilename, MaxFilenameLength)
	}
	if !filenamePattern.MatchString(filename) {
		return fmt.Errorf("%w: filename contains invalid characters. Use only: a-z, A-Z, 0-9, ., _, -", ErrInvalidFilename)
	}
	return nil
}

// IndexName returns the search index name for a tenant.
// All of a tenant's chunk records live in exactly this index.
func IndexName(tenantID string) string {
	return IndexPrefix + tenantID
}

// TenantFromIndex extracts the tenant ID from an index name, or ""
// if the name does not carry the expected prefix.
func TenantFromIndex(indexName string) string {
	if !strings.HasPrefix(indexName, IndexPrefix) {
		return ""
	}
	return strings.TrimPrefix(indexName, IndexPrefix)
}
