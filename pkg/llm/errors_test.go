package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
		Model:      "gpt-4o-mini",
		Endpoint:   "https://api.openai.com/v1",
		Cause:      errors.New("upstream"),
	}

	result := err.Error()
	for _, want := range []string{"endpoint", "HTTP 503", "model=gpt-4o-mini", "endpoint=api.openai.com", "server error", ": upstream"} {
		if !strings.Contains(result, want) {
			t.Errorf("expected %q in %q", want, result)
		}
	}
	if strings.Contains(result, "/v1") {
		t.Errorf("expected only the endpoint host, got %q", result)
	}
}

func TestError_UnwrapAndRetryable(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrorTypeRateLimit, "rate limited", true, cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if !err.IsRetryable() || !IsRetryable(fmt.Errorf("wrapped: %w", err)) {
		t.Error("expected retryable through wrapping")
	}
	if GetErrorType(fmt.Errorf("wrapped: %w", err)) != ErrorTypeRateLimit {
		t.Error("expected rate limit type through wrapping")
	}
	if GetErrorType(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("expected unknown type for plain errors")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantType   ErrorType
		retryable  bool
		statusCode int
	}{
		{"unauthorized", errors.New("error, status code: 401, message: Incorrect API key"), ErrorTypeAuth, false, 401},
		{"anthropic key", errors.New("invalid x-api-key"), ErrorTypeAuth, false, 0},
		{"model loading", errors.New("error, status code: 503, message: Model is loading"), ErrorTypeLoading, true, 503},
		{"model missing", errors.New("The model `gpt-9` does not exist"), ErrorTypeModel, false, 0},
		{"endpoint 404", errors.New("status code: 404, page missing"), ErrorTypeEndpoint, false, 404},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8000: connect: connection refused"), ErrorTypeEndpoint, true, 0},
		{"deadline", context.DeadlineExceeded, ErrorTypeEndpoint, true, 0},
		{"canceled", fmt.Errorf("request: %w", context.Canceled), ErrorTypeCanceled, false, 0},
		{"rate limited", errors.New("status code: 429, Rate limit reached"), ErrorTypeRateLimit, true, 429},
		{"overloaded", errors.New("overloaded_error: Overloaded"), ErrorTypeRateLimit, true, 0},
		{"gpu", errors.New("CUDA error: out of memory"), ErrorTypeEndpoint, true, 0},
		{"bad gateway", errors.New("status code: 502"), ErrorTypeEndpoint, true, 502},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if got.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.statusCode)
			}
			if !errors.Is(got, tt.err) {
				t.Error("expected the original error as cause")
			}
		})
	}
}

func TestClassifyError_NilAndAlreadyClassified(t *testing.T) {
	if ClassifyError(nil) != nil {
		t.Error("expected nil for nil error")
	}

	original := NewError(ErrorTypeCircuit, "model calls suspended", false, nil)
	if got := ClassifyError(fmt.Errorf("ctx: %w", original)); got != original {
		t.Errorf("expected the existing *Error back, got %v", got)
	}
}
