package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/config"
	"github.com/ekaya-inc/ekaya-ledger/pkg/conversation"
	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
	"github.com/ekaya-inc/ekaya-ledger/pkg/handlers"
	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/mcp"
	"github.com/ekaya-inc/ekaya-ledger/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-ledger/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ledger/pkg/middleware"
	"github.com/ekaya-inc/ekaya-ledger/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
	"github.com/ekaya-inc/ekaya-ledger/pkg/sql"
	"github.com/ekaya-inc/ekaya-ledger/pkg/sqlgen"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.String("error", logging.SanitizeError(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("pipeline_mode", cfg.Pipeline.Mode),
		zap.String("sql_generator", cfg.Pipeline.SQLGenerator),
	)

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := migrate(cfg.Database.URL(), logger); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	registryOpts := []schema.Option{
		schema.WithTTL(cfg.Schema.TTL, cfg.Schema.FallbackTTL),
		schema.WithMetrics(recorder),
	}
	if cfg.Schema.KeywordsFile != "" {
		keywords, err := schema.LoadKeywords(cfg.Schema.KeywordsFile)
		if err != nil {
			return err
		}
		registryOpts = append(registryOpts, schema.WithKeywords(keywords))
	}
	registry := schema.NewRegistry(database.NewSchemaDiscoverer(db.Pool), logger, registryOpts...)

	clients, err := llm.NewClients(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("create model clients: %w", err)
	}

	var history conversation.Store = conversation.NewMemoryStore(0)
	if cfg.Pipeline.PersistHistory {
		history = conversation.NewPostgresStore(db.Pool)
	}

	var generator pipeline.SQLGenerator = pipeline.NewTemplateSQLGenerator()
	if cfg.Pipeline.SQLGenerator == "llm" {
		generator = pipeline.NewLLMSQLGenerator(clients.SQL, registry, cfg.LLM.Temperature, recorder)
	}

	p, err := pipeline.New(pipeline.Config{
		Mode:           pipeline.Mode(cfg.Pipeline.Mode),
		HistoryTurns:   cfg.Pipeline.HistoryTurns,
		MaxQueryLength: cfg.Pipeline.MaxQueryLength,
		CurrencySymbol: cfg.Pipeline.CurrencySymbol,
		Temperature:    cfg.LLM.Temperature,
	}, pipeline.Dependencies{
		Schema:     registry,
		Rewriter:   sqlgen.NewRewriter(registry, logger),
		Validator:  sql.NewValidator(logger, recorder),
		Executor:   database.NewQueryExecutor(db.Pool, cfg.Executor.StatementTimeout, cfg.Executor.MaxRows, logger),
		Extraction: clients.Extraction,
		Formatting: clients.Formatting,
		Generator:  generator,
		Loader:     clients.Loader,
		History:    history,
		Metrics:    recorder,
	}, logger)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, handlers.HealthChecks{
		Database: db.Pool,
		Models:   clients.Loader,
		Schema:   registry,
	}, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(p, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", recorder.Handler())

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("ekaya-ledger", cfg.Version, logger)
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, clients.Loader)
		tools.RegisterAskRecordsTool(mcpServer.MCP(), p, logger)
		tools.RegisterDescribeSchemaTool(mcpServer.MCP(), registry)
		handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)
	}

	// Warm the models in the background so the first question does not pay
	// for it. A failure here is retried by the first request.
	go func() {
		if err := clients.Loader.Ensure(ctx); err != nil {
			logger.Warn("Model warm-up failed", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-ledger", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func migrate(url string, logger *zap.Logger) error {
	sqlDB, err := database.OpenSQL(url)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
