// Package mcp exposes the backend router as an MCP server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spetr/localrouter/internal/history"
	"github.com/spetr/localrouter/internal/manager"
	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

// Server implements the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	manager   *manager.Manager
	history   *history.Store
}

// Config contains server configuration.
type Config struct {
	Manager *manager.Manager
	History *history.Store // optional
	Version string
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	s := &Server{
		manager: cfg.Manager,
		history: cfg.History,
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	mcpServer := server.NewMCPServer(
		"localrouter",
		version,
		server.WithLogging(),
	)

	// Register tools
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// generate - Text generation on the active backend
	mcpServer.AddTool(mcp.NewTool("generate",
		mcp.WithDescription("Generate text using the currently selected local backend"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt text")),
		mcp.WithString("system", mcp.Description("System prompt")),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature (default 0.7)")),
		mcp.WithNumber("max_tokens", mcp.Description("Maximum tokens to generate (default 512)")),
	), s.handleGenerate)

	// embed - Embedding on the active backend
	mcpServer.AddTool(mcp.NewTool("embed",
		mcp.WithDescription("Generate an embedding vector using the currently selected local backend"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to embed")),
	), s.handleEmbed)

	// backend_status - Current snapshot and selection
	mcpServer.AddTool(mcp.NewTool("backend_status",
		mcp.WithDescription("Get backend availability and the currently selected backend"),
	), s.handleBackendStatus)

	// refresh_backends - Re-probe all backends
	mcpServer.AddTool(mcp.NewTool("refresh_backends",
		mcp.WithDescription("Probe all configured backends and refresh availability"),
	), s.handleRefreshBackends)

	// set_mode - Switch selection mode
	mcpServer.AddTool(mcp.NewTool("set_mode",
		mcp.WithDescription("Set the backend selection mode"),
		mcp.WithString("mode", mcp.Required(), mcp.Description("auto, ollama, lmstudio, jan, gpt4all or pyscript")),
	), s.handleSetMode)

	// probe_history - Recent probe batches
	mcpServer.AddTool(mcp.NewTool("probe_history",
		mcp.WithDescription("Get recent backend availability history"),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	), s.handleProbeHistory)
}

// Tool handlers

func (s *Server) handleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := req.GetString("prompt", "")
	if prompt == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}

	genReq := types.GenerateRequest{
		Prompt:      prompt,
		System:      req.GetString("system", ""),
		Temperature: req.GetFloat("temperature", 0.7),
		MaxTokens:   req.GetInt("max_tokens", 512),
	}

	text, err := s.manager.Generate(ctx, genReq)
	if err != nil {
		return toolError("generation failed", err), nil
	}

	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleEmbed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	embedding, err := s.manager.Embed(ctx, text)
	if err != nil {
		return toolError("embedding failed", err), nil
	}

	result := map[string]any{
		"dimensions": len(embedding),
		"embedding":  embedding,
	}
	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleBackendStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.manager.Status()

	backends := make([]map[string]any, 0, len(provider.Priority))
	for _, kind := range provider.Priority {
		info, _ := provider.Lookup(kind)
		entry := map[string]any{
			"name":       string(kind),
			"display":    info.DisplayName,
			"embeddings": info.SupportsEmbeddings,
		}
		if result, probed := status.Snapshot[kind]; probed {
			entry["reachable"] = result.Reachable
			if len(result.Models) > 0 {
				entry["models"] = result.Models
			}
		} else {
			entry["reachable"] = false
			entry["probed"] = false
		}
		backends = append(backends, entry)
	}

	result := map[string]any{
		"mode":     string(status.Mode),
		"probing":  status.Probing,
		"backends": backends,
	}
	if status.Resolved {
		result["active"] = string(status.Active)
	} else {
		result["active"] = nil
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleRefreshBackends(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slog.Info("refreshing backends")

	if err := s.manager.Refresh(ctx); err != nil {
		return toolError("refresh failed", err), nil
	}
	return s.handleBackendStatus(ctx, req)
}

func (s *Server) handleSetMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := req.GetString("mode", "")
	if mode == "" {
		return mcp.NewToolResultError("mode is required"), nil
	}

	if err := s.manager.SetMode(ctx, types.Mode(mode)); err != nil {
		return toolError("failed to set mode", err), nil
	}
	return s.handleBackendStatus(ctx, req)
}

func (s *Server) handleProbeHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("probe history is disabled"), nil
	}

	limit := req.GetInt("limit", 20)

	entries, err := s.history.Recent(limit)
	if err != nil {
		return toolError("failed to read history", err), nil
	}

	var formatted []map[string]any
	for _, e := range entries {
		entry := map[string]any{
			"batch_at":  e.BatchAt.Format("2006-01-02 15:04:05"),
			"backend":   string(e.Kind),
			"reachable": e.Reachable,
		}
		if len(e.Models) > 0 {
			entry["models"] = e.Models
		}
		formatted = append(formatted, entry)
	}

	response := map[string]any{
		"count":   len(formatted),
		"entries": formatted,
	}
	jsonResult, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// toolError maps routing errors to tool results, keeping subprocess
// stderr visible to the caller.
func toolError(context string, err error) *mcp.CallToolResult {
	var execErr *types.ExecError
	if errors.As(err, &execErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: script execution failed:\n%s", context, execErr.Stderr))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", context, err))
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
