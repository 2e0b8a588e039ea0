package mcp

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/guidesearch/internal/engine"
	"github.com/dshills/guidesearch/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "guidesearch"
	// ServerVersion is the current server version
	ServerVersion = "0.3.0"

	// StatusNotification is sent to clients whenever the search mode changes
	StatusNotification = "notifications/guidesearch/status"
)

// Backend is the search subsystem the tools call into. app.App implements it.
type Backend interface {
	Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error)
	Status() types.StatusEvent
	Subscribe() (<-chan types.StatusEvent, func())
	Model() (engine.ModelInfo, bool)
	Counts(ctx context.Context) (docs, vectors int, err error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	logger  *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(backend Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:     mcpServer,
		backend: backend,
		logger:  logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

// Serve speaks MCP on stdin/stdout until ctx is canceled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO speaks MCP on the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.forwardStatus(ctx)

	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, in, out)
}

// forwardStatus pushes every mode change to connected clients
func (s *Server) forwardStatus(ctx context.Context) {
	events, unsubscribe := s.backend.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.logger.Info("search status changed", zap.Stringer("status", ev))
			s.mcp.SendNotificationToAllClients(StatusNotification, statusParams(ev))
		}
	}
}

func statusParams(ev types.StatusEvent) map[string]any {
	params := map[string]any{
		"mode":   string(ev.Mode),
		"status": ev.String(),
		"at":     ev.At.Format(time.RFC3339),
	}
	if ev.Reason != "" {
		params["reason"] = ev.Reason
	}
	if ev.Model != "" {
		params["model"] = ev.Model
	}
	return params
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchGuidelinesTool(), s.handleSearchGuidelines)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
