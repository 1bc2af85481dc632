package services

import (
	"github.com/fyrsmithlabs/screenpilot/internal/generation"
	"github.com/fyrsmithlabs/screenpilot/internal/rag"
	"github.com/fyrsmithlabs/screenpilot/internal/secrets"
	"github.com/fyrsmithlabs/screenpilot/internal/vectorstore"
)

// Backends names the configured providers, for status reporting.
type Backends struct {
	VectorStore string `json:"vectorstore"`
	Embeddings  string `json:"embeddings"`
}

// Registry provides access to the screenpilot services.
type Registry interface {
	Pipeline() *rag.Pipeline
	Generator() *generation.Generator
	VectorStore() vectorstore.Store
	// Health may be nil when no monitor runs.
	Health() *vectorstore.HealthMonitor
	Scrubber() secrets.Scrubber
	Backends() Backends
}

// Options configures the registry with service instances.
type Options struct {
	Pipeline    *rag.Pipeline
	Generator   *generation.Generator
	VectorStore vectorstore.Store
	Health      *vectorstore.HealthMonitor
	Scrubber    secrets.Scrubber
	Backends    Backends
}

type registry struct {
	opts Options
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	if opts.Scrubber == nil {
		opts.Scrubber = secrets.Nop{}
	}
	return &registry{opts: opts}
}

func (r *registry) Pipeline() *rag.Pipeline            { return r.opts.Pipeline }
func (r *registry) Generator() *generation.Generator   { return r.opts.Generator }
func (r *registry) VectorStore() vectorstore.Store     { return r.opts.VectorStore }
func (r *registry) Health() *vectorstore.HealthMonitor { return r.opts.Health }
func (r *registry) Scrubber() secrets.Scrubber         { return r.opts.Scrubber }
func (r *registry) Backends() Backends                 { return r.opts.Backends }
