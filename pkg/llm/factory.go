package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/config"
)

// Purposes name the three model collaborators of the question pipeline.
const (
	PurposeExtraction = "extraction"
	PurposeSQL        = "sql"
	PurposeFormatting = "formatting"
)

// Clients holds the model collaborators built from configuration. All three
// share one circuit breaker because they share a provider.
type Clients struct {
	Extraction LLMClient
	SQL        LLMClient
	Formatting LLMClient
	Breaker    *CircuitBreaker
	Loader     *Loader
}

// NewClientForProvider creates a client for the configured provider.
func NewClientForProvider(provider string, cfg *Config, logger *zap.Logger) (LLMClient, error) {
	switch provider {
	case "openai", "":
		return NewClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// NewClients builds the extraction, SQL and formatting clients, wraps each
// with the shared circuit breaker and creates the warm-up loader.
func NewClients(cfg config.LLMConfig, logger *zap.Logger) (*Clients, error) {
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.BreakerThreshold,
		ResetAfter: cfg.BreakerReset,
	})

	build := func(purpose, model string) (LLMClient, error) {
		client, err := NewClientForProvider(cfg.Provider, &Config{
			Endpoint:  cfg.Endpoint,
			Model:     model,
			APIKey:    cfg.APIKey,
			MaxTokens: cfg.MaxTokens,
			Purpose:   purpose,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create %s client: %w", purpose, err)
		}
		return NewBreakerClient(client, breaker, logger), nil
	}

	extraction, err := build(PurposeExtraction, cfg.ExtractionModel)
	if err != nil {
		return nil, err
	}
	sqlClient, err := build(PurposeSQL, cfg.SQLModel)
	if err != nil {
		return nil, err
	}
	formatting, err := build(PurposeFormatting, cfg.FormattingModel)
	if err != nil {
		return nil, err
	}

	loader := NewLoader(WarmUpAll(uniqueByModel(extraction, sqlClient, formatting)...), LoaderConfig{
		MaxAttempts: cfg.MaxLoadAttempts,
		Wait:        cfg.LoadWait,
	}, logger)

	return &Clients{
		Extraction: extraction,
		SQL:        sqlClient,
		Formatting: formatting,
		Breaker:    breaker,
		Loader:     loader,
	}, nil
}

// uniqueByModel drops clients whose model is already warmed by an earlier one.
func uniqueByModel(clients ...LLMClient) []LLMClient {
	seen := make(map[string]struct{}, len(clients))
	out := make([]LLMClient, 0, len(clients))
	for _, c := range clients {
		if _, ok := seen[c.GetModel()]; ok {
			continue
		}
		seen[c.GetModel()] = struct{}{}
		out = append(out, c)
	}
	return out
}
