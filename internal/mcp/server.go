package mcp

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wvw-insights/cbtup/internal/app"
)

// Server exposes the uploader core as MCP tools
type Server struct {
	mcpServer *mcp.Server
	app       *app.App

	// sessionCtx outlives individual tool calls; uploads run under it.
	sessionCtx context.Context
}

// NewServer creates an MCP server over the wired application
func NewServer(a *app.App, version string) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "cbtup",
		Version: version,
	}, nil)

	s := &Server{
		mcpServer:  mcpServer,
		app:        a,
		sessionCtx: context.Background(),
	}
	s.registerTools()
	return s
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_logs",
		Description: "List combat logs in the configured log directory, newest first, optionally limited to a time window.",
	}, s.handleListLogs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "start_upload",
		Description: "Start uploading combat logs with the active token. Only one upload session runs at a time; poll upload_status for progress.",
	}, s.handleStartUpload)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "upload_status",
		Description: "Show progress of the current or most recent upload session.",
	}, s.handleUploadStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cancel_upload",
		Description: "Cancel the running upload session. Uploads already in flight finish; nothing new starts.",
	}, s.handleCancelUpload)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cleanup",
		Description: "Move combat logs older than a number of days to the trash.",
	}, s.handleCleanup)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_tokens",
		Description: "List saved upload tokens with their secrets masked.",
	}, s.handleListTokens)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_active_token",
		Description: "Make a saved token the one used for uploads.",
	}, s.handleSetActiveToken)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_reports",
		Description: "List links to parsed reports from past uploads, newest first.",
	}, s.handleListReports)
}

// RunStdio runs the server using stdio transport
func (s *Server) RunStdio(ctx context.Context) error {
	s.sessionCtx = ctx
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// NewHTTPHandler creates an HTTP handler for SSE transport
func (s *Server) NewHTTPHandler() http.Handler {
	return mcp.NewSSEHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

// NewStreamableHTTPHandler creates a streamable HTTP handler
func (s *Server) NewStreamableHTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

// SetSessionContext sets the context upload sessions run under. Cancelling it
// cancels a running session.
func (s *Server) SetSessionContext(ctx context.Context) {
	s.sessionCtx = ctx
}
