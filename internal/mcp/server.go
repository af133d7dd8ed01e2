package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/replyscan"
	"github.com/fyrsmithlabs/crewgate/internal/vetting"
)

// Server is the crewgate MCP server.
type Server struct {
	mcp          *mcp.Server
	vetter       *vetting.Vetter
	replies      *replyscan.Scanner
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "crewgate")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging. It must not write to stdout when the
	// server runs on the stdio transport.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "crewgate",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server over the vetter and reply scanner.
func NewServer(cfg *Config, vetter *vetting.Vetter, replies *replyscan.Scanner) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if vetter == nil {
		return nil, fmt.Errorf("vetter is required")
	}
	if replies == nil {
		return nil, fmt.Errorf("reply scanner is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		vetter:       vetter,
		replies:      replies,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Tools returns the tool registry.
func (s *Server) Tools() *ToolRegistry {
	return s.toolRegistry
}

// Run starts the MCP server on the stdio transport and blocks until the
// client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.Int("tools", s.toolRegistry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over t without blocking.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
