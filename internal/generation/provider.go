// Package generation turns a question and retrieved excerpts into an answer
// from a language model.
//
// The primary provider is any OpenAI-compatible chat completions endpoint
// whose base URL is chosen per request by an endpoint resolver. A secondary
// provider (Gemini or Anthropic) answers when the primary fails or when the
// caller asks for it explicitly.
package generation

import (
	"context"
	"errors"
)

var (
	// ErrMalformedResponse is returned when a provider answers without usable text.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrInvalidConfig indicates a provider cannot be built from its config.
	ErrInvalidConfig = errors.New("invalid generation configuration")
)

// Provider completes a prompt.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// EndpointProvider completes a prompt against a base URL chosen by the caller.
type EndpointProvider interface {
	Name() string
	CompleteAt(ctx context.Context, baseURL, prompt string) (string, error)
}

// Excerpt is a retrieved passage given to the model as context.
type Excerpt struct {
	ID        string
	Text      string
	SourceRef string
	Score     float32
}

// Request is one answer request.
type Request struct {
	Question string
	Context  []Excerpt
	// TraceID is generated when empty.
	TraceID string
}

// Source is an excerpt as reported back to the caller.
type Source struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	SourceRef string  `json:"source_ref,omitempty"`
	Score     float32 `json:"score"`
}

// Response is a generated answer.
type Response struct {
	Answer   string   `json:"answer"`
	TraceID  string   `json:"trace_id"`
	Provider string   `json:"provider"`
	Sources  []Source `json:"sources"`
}
