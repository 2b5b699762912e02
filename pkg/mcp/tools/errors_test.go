package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func TestNewErrorResult(t *testing.T) {
	resp := decodeErrorResult(t, NewErrorResult("empty_query", "query must not be empty"))

	assert.True(t, resp.Error)
	assert.Equal(t, "empty_query", resp.Code)
	assert.Equal(t, "query must not be empty", resp.Message)
	assert.Nil(t, resp.Details)
}

func TestNewErrorResultWithDetails(t *testing.T) {
	result := NewErrorResultWithDetails("invalid_role", "invalid role: \"owner\"", map[string]any{
		"valid_roles": []string{"admin", "accountant", "viewer"},
	})
	resp := decodeErrorResult(t, result)

	assert.Equal(t, "invalid_role", resp.Code)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"admin", "accountant", "viewer"}, details["valid_roles"])
}
