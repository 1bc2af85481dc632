package http

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

const healthCheckTimeout = 5 * time.Second

// uploadExtensions lists the accepted /upload file types.
var uploadExtensions = map[string]bool{".txt": true, ".md": true, ".markdown": true}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{
		Message: "ScreenPilot Backend is running",
		Status:  "healthy",
		Version: s.config.Version,
	})
}

// handleHealth reports degraded, still with 200, when the vector store is
// unreachable so that the extension can show a warning instead of failing.
func (s *Server) handleHealth(c echo.Context) error {
	backends := s.registry.Backends()
	resp := HealthResponse{
		Status:      "healthy",
		VectorStore: "connected",
		Embeddings:  orDisabled(backends.Embeddings),
		Primary:     "disabled",
		Secondary:   "disabled",
	}
	if g := s.registry.Generator(); g != nil {
		resp.Primary = g.PrimaryName()
		resp.Secondary = orDisabled(g.SecondaryName())
	}

	if err := s.storeHealth(c.Request().Context()); err != "" {
		resp.Status = "degraded"
		resp.VectorStore = "unavailable"
		resp.Error = err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) storeHealth(ctx context.Context) string {
	if hm := s.registry.Health(); hm != nil {
		if hm.IsHealthy() {
			return ""
		}
		return hm.LastError()
	}
	store := s.registry.VectorStore()
	if store == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := store.Health(ctx); err != nil {
		_, msg := apperr.Public(err)
		return msg
	}
	return ""
}

func orDisabled(name string) string {
	if name == "" {
		return "disabled"
	}
	return name
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	return s.ask(c, req, req.UseSecondary)
}

func (s *Server) handleAskSecondary(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	return s.ask(c, req, true)
}

func (s *Server) ask(c echo.Context, req AskRequest, useSecondary bool) error {
	if strings.TrimSpace(req.Question) == "" {
		return invalid("question is required")
	}
	resp, err := s.registry.Pipeline().AskWithContext(c.Request().Context(), req.Question, req.Context, req.TopK, useSecondary)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AskResponse{
		Answer:   resp.Answer,
		TraceID:  resp.TraceID,
		Provider: resp.Provider,
		Sources:  resp.Sources,
	})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return invalid("invalid request body")
	}
	res, err := s.registry.Pipeline().Ingest(c.Request().Context(), req.Text, req.SourceRef)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IngestResponse{SourceRef: res.SourceRef, ChunksCreated: res.ChunksCreated})
}

// handleUpload ingests a plain text or markdown file sent as the "file"
// field of a multipart form.
func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return invalid("multipart field \"file\" is required")
	}
	name := filepath.Base(fh.Filename)
	if !uploadExtensions[strings.ToLower(filepath.Ext(name))] {
		return invalid("only .txt and .md files are supported")
	}
	if fh.Size > s.config.MaxUploadBytes {
		return invalid("file is too large")
	}

	f, err := fh.Open()
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to read upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.config.MaxUploadBytes+1))
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to read upload")
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		return invalid("file is too large")
	}
	if !utf8.Valid(data) {
		return invalid("file is not valid UTF-8 text")
	}

	docID := uuid.NewString()
	ref := docID + ":" + name
	res, err := s.registry.Pipeline().Ingest(c.Request().Context(), string(data), ref)
	if err != nil {
		return err
	}
	s.logger.Info(c.Request().Context(), "processed upload",
		zap.String("document_id", docID),
		zap.String("filename", name),
		zap.Int("chunks", res.ChunksCreated))

	return c.JSON(http.StatusOK, UploadResponse{
		DocumentID:     docID,
		SourceRef:      ref,
		PagesProcessed: 1,
		ChunksCreated:  res.ChunksCreated,
	})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.registry.Pipeline().Documents(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DocumentsResponse{Documents: docs, Total: len(docs)})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	ref, err := url.PathUnescape(c.Param("source_ref"))
	if err != nil {
		return invalid("malformed source_ref")
	}
	if err := s.registry.Pipeline().DeleteDocument(c.Request().Context(), ref); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
