package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewServer(t *testing.T) {
	s := NewServer("ekaya-ledger", "1.0.0", zap.NewNop())

	if s == nil {
		t.Fatal("expected non-nil server")
	}
	if s.MCP() == nil {
		t.Fatal("expected non-nil mcp server")
	}
	if s.MCP() != s.mcp {
		t.Error("expected MCP() to return the internal mcp server")
	}
	if s.NewStreamableHTTPServer() == nil {
		t.Fatal("expected non-nil HTTP server")
	}
}

func TestServer_InitializeAdvertisesTools(t *testing.T) {
	s := NewServer("ekaya-ledger", "1.2.3", zap.NewNop())

	msg := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`
	result := s.MCP().HandleMessage(context.Background(), []byte(msg))

	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var response struct {
		Result struct {
			ServerInfo struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
			Capabilities struct {
				Tools *struct{} `json:"tools"`
			} `json:"capabilities"`
			Instructions string `json:"instructions"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if response.Result.ServerInfo.Name != "ekaya-ledger" || response.Result.ServerInfo.Version != "1.2.3" {
		t.Errorf("unexpected server info: %+v", response.Result.ServerInfo)
	}
	if response.Result.Capabilities.Tools == nil {
		t.Error("expected tool capabilities to be advertised")
	}
	if response.Result.Instructions == "" {
		t.Error("expected server instructions")
	}
}

func TestServer_RegisterTool(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewServer("ekaya-ledger", "1.0.0", zap.New(core))

	handlerCalled := false
	s.RegisterTool(mcp.NewTool("echo", mcp.WithDescription("Echo")), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		handlerCalled = true
		return mcp.NewToolResultText("echoed"), nil
	})

	if handlerCalled {
		t.Error("handler should not be called during registration")
	}
	if logs.FilterMessage("Registered MCP tool").Len() != 1 {
		t.Error("expected registration to be logged")
	}

	result := s.MCP().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo"}}`))
	raw, _ := json.Marshal(result)

	var response struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !handlerCalled {
		t.Error("expected handler to run on tools/call")
	}
	if len(response.Result.Content) != 1 || response.Result.Content[0].Text != "echoed" {
		t.Errorf("unexpected content: %s", raw)
	}
}
