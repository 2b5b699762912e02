package tools

import (
	"encoding/json"
	"testing"

	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
)

type fixedModelState llm.LoadState

func (s fixedModelState) State() llm.LoadState { return llm.LoadState(s) }

func TestRegisterHealthTool(t *testing.T) {
	mcpServer := newTestMCPServer()
	RegisterHealthTool(mcpServer, "test-version", nil)

	tools := listTools(t, mcpServer)
	desc, ok := tools["health"]
	if !ok {
		t.Fatal("health tool not found in tools/list response")
	}
	if desc != "Returns server health status, version and language model state" {
		t.Errorf("unexpected description: %s", desc)
	}
}

func TestHealthTool_Execute(t *testing.T) {
	mcpServer := newTestMCPServer()
	RegisterHealthTool(mcpServer, "1.2.3", fixedModelState(llm.Loaded))

	result := callTool(t, mcpServer, "health", nil)

	if result.Content[0].Type != "text" {
		t.Errorf("expected content type 'text', got '%s'", result.Content[0].Type)
	}

	var health healthResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &health); err != nil {
		t.Fatalf("failed to unmarshal health result: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", health.Status)
	}
	if health.Version != "1.2.3" {
		t.Errorf("expected version '1.2.3', got '%s'", health.Version)
	}
	if health.Models != "loaded" {
		t.Errorf("expected models 'loaded', got '%s'", health.Models)
	}
}

func TestHealthTool_VersionWithSpecialChars(t *testing.T) {
	mcpServer := newTestMCPServer()
	versionWithQuotes := `1.0.0-beta"test`
	RegisterHealthTool(mcpServer, versionWithQuotes, nil)

	result := callTool(t, mcpServer, "health", nil)

	var health healthResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &health); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if health.Version != versionWithQuotes {
		t.Errorf("expected version %q, got %q", versionWithQuotes, health.Version)
	}
	if health.Models != "" {
		t.Errorf("expected models to be omitted, got %q", health.Models)
	}
}
