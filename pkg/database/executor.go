package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
)

// ErrTrailingSemicolon is returned for SQL that still ends in a semicolon.
var ErrTrailingSemicolon = errors.New("sql must not end with a semicolon")

// Row is one result row keyed by column name. JSONB values are nested maps,
// numerics are float64 and UUIDs are strings.
type Row map[string]any

// Result holds the rows of one query in order.
type Result struct {
	Columns   []string
	Rows      []Row
	Truncated bool // more rows existed than the executor's row cap
}

// QueryExecutor runs validated SQL against the document store. Every statement
// runs in a read-only transaction with a local statement timeout, so a mutating
// statement that slipped past validation is still refused by Postgres.
type QueryExecutor struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
	maxRows          int
	logger           *zap.Logger
}

// NewQueryExecutor creates an executor. A non-positive maxRows means 1000.
func NewQueryExecutor(pool *pgxpool.Pool, statementTimeout time.Duration, maxRows int, logger *zap.Logger) *QueryExecutor {
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &QueryExecutor{
		pool:             pool,
		statementTimeout: statementTimeout,
		maxRows:          maxRows,
		logger:           logger.Named("query-executor"),
	}
}

// Execute runs sqlQuery and returns at most maxRows rows.
func (e *QueryExecutor) Execute(ctx context.Context, sqlQuery string) (*Result, error) {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return nil, errors.New("sql is empty")
	}
	if strings.HasSuffix(trimmed, ";") {
		return nil, ErrTrailingSemicolon
	}

	start := time.Now()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		// Read-only: rolling back is always correct and releases the connection.
		_ = tx.Rollback(context.Background())
	}()

	if e.statementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.Query(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Result{Columns: make([]string, len(fields)), Rows: []Row{}}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		if len(result.Rows) == e.maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(Row, len(values))
		for i, v := range values {
			row[result.Columns[i]] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	e.logger.Info("Executed query",
		zap.String("sql", logging.SanitizeQuery(trimmed)),
		zap.Int("rows", len(result.Rows)),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// normalizeValue converts pgx's decoded values into plain JSON-friendly types.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeValue(inner)
		}
		return val
	default:
		return v
	}
}
