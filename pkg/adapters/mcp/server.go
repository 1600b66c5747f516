// Package mcp exposes a ledger engine as a Model Context Protocol server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/ledger"
	"github.com/aretw0/ledger/internal/logging"
	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/view"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StatusURI is the resource describing the engine.
const StatusURI = "ledger://status"

// CommandResponse is the structured result of execute_command.
type CommandResponse struct {
	Command string `json:"command" jsonschema_description:"The executed command"`
	Result  any    `json:"result" jsonschema_description:"Value returned by the command handler"`
}

// ViewResponse is the structured result of find_view.
type ViewResponse struct {
	View any `json:"view" jsonschema_description:"The projected view"`
}

// ViewsResponse is the structured result of select_views.
type ViewsResponse struct {
	Views []any `json:"views" jsonschema_description:"Every view of the type, ordered by entity id"`
}

// Engine is the part of *ledger.Engine the server needs.
type Engine interface {
	Execute(ctx context.Context, name string, args domain.Args) (any, error)
	Find(viewType domain.ViewType, id int64) (any, error)
	Select(viewType domain.ViewType, pred view.Predicate) ([]any, error)
	Status() ledger.Status
}

// Server wraps the engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance. A nil logger discards output.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("ledger-mcp", strings.TrimSpace(ledger.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	// TOOL: execute_command
	executeTool := mcp.NewTool("execute_command",
		mcp.WithDescription("Execute a registered ledger command. The command is durable once this returns."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command name, e.g. createAccount")),
		mcp.WithString("args", mcp.Description("JSON object with the command arguments (optional)")),
		mcp.WithOutputSchema[CommandResponse](),
	)
	s.mcpServer.AddTool(executeTool, mcp.NewStructuredToolHandler(s.handleExecute))

	// TOOL: find_view
	findTool := mcp.NewTool("find_view",
		mcp.WithDescription("Project one entity through a view type."),
		mcp.WithString("view", mcp.Required(), mcp.Description("View type, e.g. AccountView")),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithOutputSchema[ViewResponse](),
	)
	s.mcpServer.AddTool(findTool, mcp.NewStructuredToolHandler(s.handleFind))

	// TOOL: select_views
	selectTool := mcp.NewTool("select_views",
		mcp.WithDescription("List every view of a view type, ordered by entity id."),
		mcp.WithString("view", mcp.Required(), mcp.Description("View type")),
		mcp.WithOutputSchema[ViewsResponse](),
	)
	s.mcpServer.AddTool(selectTool, mcp.NewStructuredToolHandler(s.handleSelect))
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CommandResponse, error) {
	name, _ := args["command"].(string)
	if name == "" {
		return CommandResponse{}, errors.New("command is required")
	}

	cmdArgs, err := parseArgs(args["args"])
	if err != nil {
		return CommandResponse{}, err
	}

	result, err := s.engine.Execute(ctx, name, cmdArgs)
	if err != nil {
		s.logger.Debug("MCP Execute: command rejected", "command", name, "error", err)
		return CommandResponse{}, fmt.Errorf("execute %s: %w", name, err)
	}
	return CommandResponse{Command: name, Result: result}, nil
}

func (s *Server) handleFind(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ViewResponse, error) {
	viewType, _ := args["view"].(string)
	id, err := domain.Args(args).Int64("id")
	if err != nil {
		return ViewResponse{}, err
	}
	v, err := s.engine.Find(domain.ViewType(viewType), id)
	if err != nil {
		return ViewResponse{}, fmt.Errorf("find failed: %w", err)
	}
	return ViewResponse{View: v}, nil
}

func (s *Server) handleSelect(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ViewsResponse, error) {
	viewType, _ := args["view"].(string)
	views, err := s.engine.Select(domain.ViewType(viewType), nil)
	if err != nil {
		return ViewsResponse{}, fmt.Errorf("select failed: %w", err)
	}
	return ViewsResponse{Views: views}, nil
}

// parseArgs accepts a JSON object string, an already decoded object or nothing.
// String values are sanitized before they reach the engine.
func parseArgs(raw any) (domain.Args, error) {
	switch v := raw.(type) {
	case nil:
		return domain.Args{}, nil
	case map[string]interface{}:
		return codec.SanitizeArgs(domain.Args(v))
	case string:
		if strings.TrimSpace(v) == "" {
			return domain.Args{}, nil
		}
		args, err := codec.UnmarshalArgs([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("args must be a JSON object: %w", err)
		}
		if args == nil {
			return domain.Args{}, nil
		}
		return codec.SanitizeArgs(args)
	}
	return nil, fmt.Errorf("args must be a JSON object, got %T", raw)
}

func (s *Server) registerResources() {
	// EXPOSE: ledger://status
	s.mcpServer.AddResource(mcp.NewResource(StatusURI, "Ledger Status",
		mcp.WithMIMEType("application/json"),
	), s.readStatus)
}

func (s *Server) readStatus(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(s.engine.Status())
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StatusURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
