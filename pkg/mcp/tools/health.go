package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
)

// ModelState reports the warm-up state of the language models.
type ModelState interface {
	State() llm.LoadState
}

type healthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Models  string `json:"models,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// models may be nil.
func RegisterHealthTool(s *server.MCPServer, version string, models ModelState) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and language model state"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		health := healthResult{Status: "ok", Version: version}
		if models != nil {
			health.Models = models.State().String()
		}
		result, err := json.Marshal(health)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
