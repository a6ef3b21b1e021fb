// Package mcpserver serves the registered tools over the Model Context
// Protocol.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/queryhub-go/internal/logger"
	"github.com/comigor/queryhub-go/pkg/tools"
)

// New builds an MCP server exposing every tool in m.
func New(m *tools.ToolManager, version string) *server.MCPServer {
	s := server.NewMCPServer("queryhub", version, server.WithToolCapabilities(false))
	for _, t := range m.List() {
		s.AddTool(describe(t), handlerFor(t))
		logger.L.Debug("registered MCP tool", "tool", t.Name())
	}
	return s
}

// ServeStdio blocks serving s on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func describe(t tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}
	for _, p := range t.Params() {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		opts = append(opts, mcp.WithString(p.Name, propOpts...))
	}
	return mcp.NewTool(t.Name(), opts...)
}

// handlerFor reports tool failures as error results so the client model can
// read them; the protocol-level error is reserved for transport faults.
func handlerFor(t tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := t.Run(ctx, req.GetArguments())
		if err != nil {
			logger.L.Warn("MCP tool call failed", "tool", t.Name(), "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
