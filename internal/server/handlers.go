package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/docstore"
	"github.com/fyrsmithlabs/ragd/internal/objectstore"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// verifySampleLimit caps how many records the verify endpoint shows.
const verifySampleLimit = 10

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, errorResponse{Success: false, Error: message})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "ragd",
	})
}

type uploadRequest struct {
	TenantID     string `json:"tenant_id"`
	DocumentType string `json:"document_type"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
}

type uploadResponse struct {
	Success      bool   `json:"success"`
	UploadURL    string `json:"upload_url"`
	FileKey      string `json:"file_key"`
	Bucket       string `json:"bucket"`
	Method       string `json:"method"`
	ExpiresIn    int    `json:"expires_in"`
	TenantID     string `json:"tenant_id"`
	DocumentType string `json:"document_type"`
}

// handleUpload validates an upload request and responds with a
// presigned PUT target. Nothing is stored until the client completes
// the upload against the returned URL.
func (s *Server) handleUpload(c echo.Context) error {
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid JSON in request body")
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.DocumentType = strings.TrimSpace(req.DocumentType)
	req.Filename = strings.TrimSpace(req.Filename)
	req.ContentType = strings.TrimSpace(req.ContentType)

	if msg := s.validateUpload(req); msg != "" {
		return fail(c, http.StatusBadRequest, msg)
	}

	ref := tenant.ObjectRef{
		TenantID:     req.TenantID,
		DocumentType: req.DocumentType,
		Filename:     req.Filename,
		Key:          tenant.GenerateFileKey(req.TenantID, req.DocumentType, req.Filename),
	}
	target, err := s.uploader.PresignUpload(c.Request().Context(), ref, req.ContentType)
	if err != nil {
		s.logger.Error("presign failed", zap.String("key", ref.Key), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Success:      true,
		UploadURL:    target.URL,
		FileKey:      target.Key,
		Bucket:       target.Bucket,
		Method:       target.Method,
		ExpiresIn:    int(target.ExpiresIn.Seconds()),
		TenantID:     req.TenantID,
		DocumentType: req.DocumentType,
	})
}

// validateUpload returns an empty string when the request is valid, or
// the rejection message otherwise.
func (s *Server) validateUpload(req uploadRequest) string {
	if req.TenantID == "" {
		return "tenant_id is required"
	}
	if err := tenant.ValidateID(req.TenantID); err != nil {
		return "tenant_id must match format: cliente_[a-z0-9]+"
	}

	allowed := false
	for _, documentType := range s.config.Intake.AllowedDocumentTypes {
		if req.DocumentType == documentType {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Sprintf("document_type must be one of: %s", strings.Join(s.config.Intake.AllowedDocumentTypes, ", "))
	}

	if req.Filename == "" {
		return "filename is required"
	}
	if err := tenant.ValidateFilename(req.Filename); err != nil {
		if len(req.Filename) > tenant.MaxFilenameLength {
			return fmt.Sprintf("filename too long (max %d characters)", tenant.MaxFilenameLength)
		}
		return "filename contains invalid characters. Use only: a-z, A-Z, 0-9, ., _, -"
	}

	extensions, ok := s.config.Intake.ContentTypes[req.ContentType]
	if !ok {
		supported := make([]string, 0, len(s.config.Intake.ContentTypes))
		for contentType := range s.config.Intake.ContentTypes {
			supported = append(supported, contentType)
		}
		sort.Strings(supported)
		return fmt.Sprintf("content_type not allowed. Supported: %s", strings.Join(supported, ", "))
	}

	extension := tenant.Extension(req.Filename)
	for _, allowed := range extensions {
		if extension == allowed {
			return ""
		}
	}
	return fmt.Sprintf("file extension %s doesn't match content_type %s", extension, req.ContentType)
}

type queryRequest struct {
	TenantID     string `json:"tenant_id"`
	Question     string `json:"question"`
	DocumentType string `json:"document_type"`
}

type queryResponse struct {
	Success                bool         `json:"success"`
	Answer                 string       `json:"answer"`
	Sources                []rag.Source `json:"sources"`
	TotalDocumentsSearched int          `json:"total_documents_searched"`
}

// handleQuery answers a tenant question. Invalid input is rejected
// before any model or search call.
func (s *Server) handleQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid JSON in request body")
	}

	resp, err := s.answerer.Answer(c.Request().Context(), strings.TrimSpace(req.TenantID), req.Question, strings.TrimSpace(req.DocumentType))
	if err != nil {
		if errors.Is(err, rag.ErrInvalidQuestion) || errors.Is(err, tenant.ErrInvalidTenantID) {
			return fail(c, http.StatusBadRequest, err.Error())
		}
		s.logger.Error("query failed",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		return fail(c, http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, queryResponse{
		Success:                true,
		Answer:                 resp.Answer,
		Sources:                resp.Sources,
		TotalDocumentsSearched: resp.TotalDocumentsSearched,
	})
}

type verifyResponse struct {
	TenantID        string                  `json:"tenant_id"`
	TotalDocuments  int                     `json:"total_documents"`
	Indexes         []string                `json:"indexes"`
	SampleDocuments []docstore.RecordSample `json:"sample_documents"`
	Statistics      verifyStatistics        `json:"statistics"`
	Status          string                  `json:"status"`
}

type verifyStatistics struct {
	DocumentsShown int    `json:"documents_shown"`
	SearchPattern  string `json:"search_pattern"`
}

// handleVerify reports whether a tenant's ingestion produced records,
// with a sample of the most recent ones.
func (s *Server) handleVerify(c echo.Context) error {
	tenantID := c.Param("tenant_id")
	if err := tenant.ValidateID(tenantID); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	samples, total, err := s.verifier.Recent(c.Request().Context(), tenantID, verifySampleLimit)
	if err != nil {
		s.logger.Error("verification failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return fail(c, http.StatusInternalServerError, "internal server error")
	}

	status := "no_documents_found"
	indexes := []string{}
	if total > 0 {
		status = "success"
		indexes = append(indexes, tenant.IndexName(tenantID))
	}

	return c.JSON(http.StatusOK, verifyResponse{
		TenantID:        tenantID,
		TotalDocuments:  total,
		Indexes:         indexes,
		SampleDocuments: samples,
		Statistics: verifyStatistics{
			DocumentsShown: len(samples),
			SearchPattern:  tenant.IndexPrefix + "*",
		},
		Status: status,
	})
}

type eventsResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
}

// handleEvents accepts an object-created notification payload directly,
// as an alternative to the message bus delivery path.
func (s *Server) handleEvents(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "unreadable request body")
	}

	events, err := objectstore.ParseEvents(payload)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	items := s.processor.ProcessBatch(c.Request().Context(), events)
	resp := eventsResponse{Success: true}
	for _, item := range items {
		switch {
		case item.Err != nil:
			resp.Failed++
		case item.Result.Skipped:
			resp.Skipped++
		default:
			resp.Processed++
		}
	}
	if resp.Failed > 0 {
		resp.Success = false
		return c.JSON(http.StatusInternalServerError, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
