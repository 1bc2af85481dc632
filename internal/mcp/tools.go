package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
	"github.com/fyrsmithlabs/screenpilot/internal/generation"
	"github.com/fyrsmithlabs/screenpilot/internal/rag"
	"github.com/fyrsmithlabs/screenpilot/internal/vectorstore"
)

// AskInput is the ask tool's argument schema.
type AskInput struct {
	Question     string `json:"question" jsonschema:"the question to answer"`
	Context      string `json:"context,omitempty" jsonschema:"optional page text to ingest before answering"`
	TopK         int    `json:"top_k,omitempty" jsonschema:"number of excerpts to retrieve (default 3)"`
	UseSecondary bool   `json:"use_secondary,omitempty" jsonschema:"answer with the secondary provider instead of the primary"`
}

// AskOutput is the ask tool's result.
type AskOutput struct {
	Answer   string              `json:"answer"`
	Provider string              `json:"provider"`
	TraceID  string              `json:"trace_id"`
	Sources  []generation.Source `json:"sources"`
}

// IngestInput is the ingest tool's argument schema.
type IngestInput struct {
	Text      string `json:"text" jsonschema:"document text to chunk and store"`
	SourceRef string `json:"source_ref" jsonschema:"stable identifier of the document, re-ingesting it replaces its chunks"`
}

// ListInput takes no arguments.
type ListInput struct{}

// ListOutput is the list_documents tool's result.
type ListOutput struct {
	Documents []vectorstore.SourceInfo `json:"documents"`
	Total     int                      `json:"total"`
}

// DeleteInput is the delete_document tool's argument schema.
type DeleteInput struct {
	SourceRef string `json:"source_ref" jsonschema:"identifier of the document to remove"`
}

// DeleteOutput is the delete_document tool's result.
type DeleteOutput struct {
	SourceRef string `json:"source_ref"`
	Deleted   bool   `json:"deleted"`
}

func (s *Server) registerTools() {
	pipeline := s.reg.Pipeline()

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the ingested documents, optionally ingesting the current page first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args AskInput) (*mcp.CallToolResult, AskOutput, error) {
		done := s.metrics.start(ctx, "ask")

		var (
			resp generation.Response
			err  error
		)
		if strings.TrimSpace(args.Context) != "" {
			resp, err = pipeline.AskWithContext(ctx, args.Question, args.Context, args.TopK, args.UseSecondary)
		} else {
			resp, err = pipeline.AnswerQuestion(ctx, args.Question, args.TopK, args.UseSecondary)
		}
		done(err)
		if err != nil {
			return nil, AskOutput{}, s.publicError("ask", err)
		}

		s.metrics.answered(ctx, resp.Provider)
		answer := s.scrub(resp.Answer)
		out := AskOutput{
			Answer:   answer,
			Provider: resp.Provider,
			TraceID:  resp.TraceID,
			Sources:  resp.Sources,
		}
		return textResult(answer), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest",
		Description: "Chunk, embed and store a document so later questions can use it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args IngestInput) (*mcp.CallToolResult, rag.IngestResult, error) {
		done := s.metrics.start(ctx, "ingest")
		res, err := pipeline.Ingest(ctx, args.Text, args.SourceRef)
		done(err)
		if err != nil {
			return nil, rag.IngestResult{}, s.publicError("ingest", err)
		}
		return textResult(fmt.Sprintf("Ingested %s: %d chunks", res.SourceRef, res.ChunksCreated)), res, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_documents",
		Description: "List ingested documents with their chunk counts.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListInput) (*mcp.CallToolResult, ListOutput, error) {
		done := s.metrics.start(ctx, "list_documents")
		docs, err := pipeline.Documents(ctx)
		done(err)
		if err != nil {
			return nil, ListOutput{}, s.publicError("list_documents", err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d documents", len(docs))
		for _, d := range docs {
			fmt.Fprintf(&b, "\n- %s (%d chunks)", d.SourceRef, d.Chunks)
		}
		return textResult(b.String()), ListOutput{Documents: docs, Total: len(docs)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_document",
		Description: "Remove every chunk of a document.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args DeleteInput) (*mcp.CallToolResult, DeleteOutput, error) {
		done := s.metrics.start(ctx, "delete_document")
		err := pipeline.DeleteDocument(ctx, args.SourceRef)
		done(err)
		if err != nil {
			return nil, DeleteOutput{}, s.publicError("delete_document", err)
		}
		return textResult("Deleted " + args.SourceRef), DeleteOutput{SourceRef: args.SourceRef, Deleted: true}, nil
	})
}

// publicError logs err and returns the message a client may see. The MCP
// SDK turns it into a result with IsError set.
func (s *Server) publicError(tool string, err error) error {
	kind, msg := apperr.Public(err)
	s.logger.Warn("tool call failed", zap.String("tool", tool), zap.String("kind", string(kind)), zap.Error(err))
	return fmt.Errorf("%s: %s", kind, msg)
}

func (s *Server) scrub(text string) string {
	res, err := s.reg.Scrubber().Scrub(text)
	if err != nil {
		s.logger.Warn("scrubbing answer failed", zap.Error(err))
		return text
	}
	if res.HasFindings() {
		s.logger.Warn("redacted secrets from answer", zap.Strings("rules", res.RuleIDs()))
	}
	return res.Scrubbed
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
