// Package mcpserver implements an MCP (Model Context Protocol) server that
// exposes the published roster and its health report as typed tools over
// stdio JSON-RPC. It is read-only.
package mcpserver

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/congress-roster/internal/config"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/monitor"
)

// Reporter returns the most recent health report.
type Reporter interface {
	Latest(ctx context.Context) (*monitor.Report, error)
}

// Server holds the MCP server state.
type Server struct {
	store   *db.DB
	reports Reporter
}

// NewServer creates an MCP server over the published view in store.
func NewServer(store *db.DB, reports Reporter) *Server {
	return &Server{store: store, reports: reports}
}

// MCPServer registers the roster tools on a new mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"rosterd",
		config.Version,
		server.WithToolCapabilities(false),
	)
	mcpServer.AddTools(
		server.ServerTool{Tool: listMembersTool(), Handler: s.handleListMembers},
		server.ServerTool{Tool: committeeRosterTool(), Handler: s.handleCommitteeRoster},
		server.ServerTool{Tool: healthReportTool(), Handler: s.handleHealthReport},
	)
	return mcpServer
}

// Serve speaks MCP on in and out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.MCPServer())
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))
	return stdio.Listen(ctx, in, out)
}
