// Package mcp exposes the session service as MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/session"
)

// TurnService is the part of session.Service the tools call.
type TurnService interface {
	SubmitTurn(ctx context.Context, sessionID, query string) (*orchestrator.TurnResult, error)
	History(ctx context.Context, sessionID string) ([]session.HistoryEntry, error)
	Reset(ctx context.Context, sessionID string) error
	Stats(ctx context.Context, sessionID string) (session.Stats, error)
}

// Server is an MCP server backed by a TurnService.
type Server struct {
	mcp     *mcp.Server
	service TurnService
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "agenticbot")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *zap.Logger

	// Meter receives tool metrics. Nil uses the global provider.
	Meter metric.Meter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Name: "agenticbot", Version: "dev", Logger: zap.NewNop()}
}

// NewServer creates an MCP server and registers its tools.
func NewServer(cfg *Config, service TurnService) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if service == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "agenticbot"
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		service: service,
		metrics: NewMetrics(cfg.Meter, cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t. Used by tests with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
