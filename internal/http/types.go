package http

import (
	"github.com/fyrsmithlabs/screenpilot/internal/generation"
	"github.com/fyrsmithlabs/screenpilot/internal/vectorstore"
)

// AskRequest is the body of POST /ask, /ask-async and /ask-gemini.
// A non-empty Context is ingested before the question is answered.
type AskRequest struct {
	Question     string `json:"question"`
	Context      string `json:"context,omitempty"`
	TopK         int    `json:"top_k,omitempty"`
	UseSecondary bool   `json:"use_secondary,omitempty"`
}

// AskResponse is returned by the ask endpoints.
type AskResponse struct {
	Answer   string              `json:"answer"`
	TraceID  string              `json:"trace_id"`
	Provider string              `json:"provider"`
	Sources  []generation.Source `json:"sources"`
}

// IngestRequest is the body of POST /ingest.
type IngestRequest struct {
	Text      string `json:"text"`
	SourceRef string `json:"source_ref"`
}

// IngestResponse is returned by POST /ingest.
type IngestResponse struct {
	SourceRef     string `json:"source_ref"`
	ChunksCreated int    `json:"chunks_created"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	DocumentID     string `json:"document_id"`
	SourceRef      string `json:"source_ref"`
	PagesProcessed int    `json:"pages_processed"`
	ChunksCreated  int    `json:"chunks_created"`
}

// DocumentsResponse is returned by GET /documents.
type DocumentsResponse struct {
	Documents []vectorstore.SourceInfo `json:"documents"`
	Total     int                      `json:"total"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vectorstore"`
	Embeddings  string `json:"embeddings"`
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary"`
	Error       string `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
