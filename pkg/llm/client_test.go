package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{Endpoint: server.URL + "/v1/", Model: "gpt-4o-mini", APIKey: "test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresEndpointAndModel(t *testing.T) {
	_, err := NewClient(&Config{Model: "m"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewClient(&Config{Endpoint: "http://localhost"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestClient_GenerateResponse(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"intent_type\": \"sum\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	})

	result, err := client.GenerateResponse(context.Background(), "how much fuel", "extract intent", 0)
	require.NoError(t, err)

	assert.Equal(t, `{"intent_type": "sum"}`, result.Content)
	assert.Equal(t, 17, result.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "extract intent", got.Messages[0].Content)
	assert.Equal(t, "how much fuel", got.Messages[1].Content)
}

func TestClient_GenerateResponse_ClassifiesErrors(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": {"message": "Model is loading", "type": "server_error"}}`))
	})

	_, err := client.GenerateResponse(context.Background(), "q", "s", 0)
	require.Error(t, err)
	assert.Equal(t, ErrorTypeLoading, GetErrorType(err))
	assert.True(t, IsRetryable(err))

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "gpt-4o-mini", llmErr.Model)
}

func TestClient_GenerateResponse_NoChoices(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cmpl-1", "object": "chat.completion", "choices": []}`))
	})

	_, err := client.GenerateResponse(context.Background(), "q", "s", 0)
	assert.Equal(t, ErrorTypeResponse, GetErrorType(err))
}

func TestClient_WarmUp(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"model served", `{"object": "list", "data": [{"id": "other"}, {"id": "gpt-4o-mini"}]}`, false},
		{"listing unsupported", `{"object": "list", "data": []}`, false},
		{"model missing", `{"object": "list", "data": [{"id": "other"}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/models", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			})

			err := client.WarmUp(context.Background())
			if tt.wantErr {
				assert.Equal(t, ErrorTypeModel, GetErrorType(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAnthropicClient_GenerateResponse(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		System   string `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "You spent ₱1,200 on fuel."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 8}
		}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(&Config{Endpoint: server.URL + "/v1", Model: "claude-test", APIKey: "k"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := client.GenerateResponse(context.Background(), "rows...", "format the answer", 0.2)
	require.NoError(t, err)

	assert.Equal(t, "You spent ₱1,200 on fuel.", result.Content)
	assert.Equal(t, 28, result.TotalTokens)
	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "format the answer", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestNewClientForProvider(t *testing.T) {
	cfg := &Config{Endpoint: "http://localhost:8000/v1", Model: "m"}

	c, err := NewClientForProvider("openai", cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &Client{}, c)

	c, err = NewClientForProvider("anthropic", cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = NewClientForProvider("bard", cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
