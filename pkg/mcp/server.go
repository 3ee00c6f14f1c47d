// Package mcp exposes the pipeline runner to agent hosts over the Model
// Context Protocol: relay.start launches a run, relay.resume feeds a
// parked one, relay.status reports on records and runs.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voyra/relay/internal/jobs"
	"github.com/voyra/relay/internal/store"
)

// RelayServerDeps holds the dependencies for creating a RelayServer.
type RelayServerDeps struct {
	Runs      *jobs.Runner
	Store     store.Store
	Snapshots store.SnapshotStore
	Logger    *slog.Logger
}

// RelayServer wraps an MCP server with relay-specific tool handlers.
type RelayServer struct {
	runs      *jobs.Runner
	store     store.Store
	snapshots store.SnapshotStore
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewRelayServer creates a RelayServer with the three tools registered.
func NewRelayServer(deps RelayServerDeps) *RelayServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	snapshots := deps.Snapshots
	if snapshots == nil {
		snapshots = deps.Store
	}

	s := &RelayServer{
		runs:      deps.Runs,
		store:     deps.Store,
		snapshots: snapshots,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"relay",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Relay runs resumable content pipelines. Use relay.start to launch an audit or research run, relay.status to check a record or parked run, and relay.resume to answer a run that is awaiting feedback."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *RelayServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *RelayServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *RelayServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("relay.start",
		mcp.WithDescription("Start a pipeline run. Returns the final report, or parks with a question when the run needs feedback."),
		mcp.WithString("pipeline", mcp.Required(),
			mcp.Enum("audit", "research"),
			mcp.Description("Which pipeline to run"),
		),
		mcp.WithObject("seed", mcp.Description("Run seed: topic for research, website_url for audit, optional record_id to attach to an existing record")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("relay.resume",
		mcp.WithDescription("Resume a parked run with feedback for its pending question"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the parked run")),
		mcp.WithObject("feedback", mcp.Description("Feedback: additional_context (string) and/or refined_search_terms (array of strings)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("relay.status",
		mcp.WithDescription("Get the state of a record or a parked run"),
		mcp.WithString("record_id", mcp.Description("ID of the record to inspect")),
		mcp.WithString("run_id", mcp.Description("ID of a parked run to inspect")),
	)
}
