package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-ledger.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL holding ai_documents)
	Database DatabaseConfig `yaml:"database"`

	// Executor controls how generated SQL is run against the document store.
	Executor ExecutorConfig `yaml:"executor"`

	// LLM holds the model collaborators used for extraction, SQL and formatting.
	LLM LLMConfig `yaml:"llm"`

	// Schema configures the metadata-key registry.
	Schema SchemaConfig `yaml:"schema"`

	// Pipeline configures the question-answering flow.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// MCP toggles the MCP endpoint.
	MCP MCPConfig `yaml:"mcp"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string        `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string        `yaml:"database" env:"PGDATABASE" env-default:"ekaya_ledger"`
	MaxConnections int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"PGCONNECT_TIMEOUT" env-default:"5s"`
	RunMigrations  bool          `yaml:"run_migrations" env:"PG_RUN_MIGRATIONS" env-default:"true"`
}

// ExecutorConfig holds limits for running generated SQL.
type ExecutorConfig struct {
	// StatementTimeout bounds a single query (the read side of the connect/read split).
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"EXECUTOR_STATEMENT_TIMEOUT" env-default:"15s"`
	// MaxRows caps the number of rows read back from a single query.
	MaxRows int `yaml:"max_rows" env:"EXECUTOR_MAX_ROWS" env-default:"1000"`
}

// LLMConfig holds model endpoints and behaviour.
type LLMConfig struct {
	Provider         string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint         string        `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	APIKey           string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	ExtractionModel  string        `yaml:"extraction_model" env:"LLM_EXTRACTION_MODEL" env-default:"gpt-4o-mini"`
	SQLModel         string        `yaml:"sql_model" env:"LLM_SQL_MODEL" env-default:"gpt-4o-mini"`
	FormattingModel  string        `yaml:"formatting_model" env:"LLM_FORMATTING_MODEL" env-default:"gpt-4o-mini"`
	Temperature      float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens        int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"LLM_REQUEST_TIMEOUT" env-default:"60s"`
	LoadWait         time.Duration `yaml:"load_wait" env:"LLM_LOAD_WAIT" env-default:"120s"`
	MaxLoadAttempts  int           `yaml:"max_load_attempts" env:"LLM_MAX_LOAD_ATTEMPTS" env-default:"3"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"LLM_BREAKER_RESET" env-default:"30s"`
}

// SchemaConfig holds settings for the metadata-key registry.
type SchemaConfig struct {
	TTL          time.Duration `yaml:"ttl" env:"SCHEMA_TTL" env-default:"5m"`
	FallbackTTL  time.Duration `yaml:"fallback_ttl" env:"SCHEMA_FALLBACK_TTL" env-default:"30s"`
	KeywordsFile string        `yaml:"keywords_file" env:"SCHEMA_KEYWORDS_FILE" env-default:""`
}

// PipelineConfig holds settings for the question-answering flow.
type PipelineConfig struct {
	// Mode is "strict" (single path, no fallback) or "legacy" (retry SQL generation
	// through the rule-based builder).
	Mode string `yaml:"mode" env:"PIPELINE_MODE" env-default:"strict"`
	// SQLGenerator is "llm" or "template".
	SQLGenerator   string `yaml:"sql_generator" env:"PIPELINE_SQL_GENERATOR" env-default:"llm"`
	HistoryTurns   int    `yaml:"history_turns" env:"PIPELINE_HISTORY_TURNS" env-default:"5"`
	MaxQueryLength int    `yaml:"max_query_length" env:"PIPELINE_MAX_QUERY_LENGTH" env-default:"1000"`
	CurrencySymbol string `yaml:"currency_symbol" env:"PIPELINE_CURRENCY_SYMBOL" env-default:"₱"`
	// PersistHistory selects Postgres-backed conversation history; otherwise history is in memory.
	PersistHistory bool `yaml:"persist_history" env:"PIPELINE_PERSIST_HISTORY" env-default:"true"`
}

// MCPConfig holds MCP endpoint settings.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate checks enumerated settings and normalises their casing.
func (c *Config) validate() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}

	c.Pipeline.Mode = strings.ToLower(strings.TrimSpace(c.Pipeline.Mode))
	switch c.Pipeline.Mode {
	case "strict", "legacy":
	default:
		return fmt.Errorf("pipeline.mode must be strict or legacy, got %q", c.Pipeline.Mode)
	}

	c.Pipeline.SQLGenerator = strings.ToLower(strings.TrimSpace(c.Pipeline.SQLGenerator))
	switch c.Pipeline.SQLGenerator {
	case "llm", "template":
	default:
		return fmt.Errorf("pipeline.sql_generator must be llm or template, got %q", c.Pipeline.SQLGenerator)
	}

	if c.Schema.FallbackTTL >= c.Schema.TTL {
		return fmt.Errorf("schema.fallback_ttl (%s) must be shorter than schema.ttl (%s)", c.Schema.FallbackTTL, c.Schema.TTL)
	}
	if c.Executor.MaxRows <= 0 {
		return fmt.Errorf("executor.max_rows must be positive")
	}
	if c.LLM.MaxLoadAttempts <= 0 {
		return fmt.Errorf("llm.max_load_attempts must be positive")
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, int(c.ConnectTimeout.Seconds()),
	)
}

// URL returns the database as a postgres:// URL, as required by golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// IsLocal reports whether the service runs in a developer environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == "dev"
}
