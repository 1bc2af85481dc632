package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/services"
)

// Server serves the pipeline tools over MCP.
type Server struct {
	mcp     *mcp.Server
	reg     services.Registry
	metrics *toolMetrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "screenpilot").
	Name string

	// Version is the implementation version (default: "dev").
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns the defaults used when NewServer gets a nil config.
func DefaultConfig() *Config {
	return &Config{
		Name:    "screenpilot",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer builds the MCP server and registers its tools.
func NewServer(cfg *Config, reg services.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "screenpilot"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if reg == nil || reg.Pipeline() == nil {
		return nil, errors.New("pipeline is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		reg:     reg,
		metrics: newToolMetrics(nil, cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over t. It is used with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
