// Package pipeline answers natural-language questions about the records in
// ai_documents. One call runs one turn through intent extraction, SQL
// generation, validation, execution and answer formatting, and always ends in
// a response the caller can show.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/conversation"
	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/sql"
	"github.com/ekaya-inc/ekaya-ledger/pkg/sqlgen"
)

// DefaultOutOfScopeMessage is used when the extractor marks a question out of
// scope without saying why.
const DefaultOutOfScopeMessage = "I can only help with expense and cashflow data queries."

// DefaultClarificationQuestion is used when the extractor asks for
// clarification without a question of its own.
const DefaultClarificationQuestion = "Could you tell me a bit more about which records you mean?"

const (
	confidenceAnswered   = 0.9
	confidenceNoRows     = 0.6
	confidenceClarify    = 0.3
	confidenceOutOfScope = 0.9
	confidenceFailed     = 0.0
)

var errEmptyAnswer = errors.New("formatting model returned an empty answer")

// Mode selects how the SQL stage handles a failed candidate.
type Mode string

const (
	// ModeStrict fails the turn on the first bad candidate.
	ModeStrict Mode = "strict"
	// ModeLegacy retries once through the rule-based template builder.
	ModeLegacy Mode = "legacy"
)

// Executor runs validated SQL.
type Executor interface {
	Execute(ctx context.Context, sql string) (*database.Result, error)
}

// ModelLoader makes sure the models are ready before a turn uses them.
type ModelLoader interface {
	Ensure(ctx context.Context) error
}

// Config holds the pipeline's behaviour settings.
type Config struct {
	Mode           Mode
	HistoryTurns   int
	MaxQueryLength int
	CurrencySymbol string
	Temperature    float64
}

// Dependencies are the collaborators of a Pipeline. Loader, History and
// Metrics may be nil.
type Dependencies struct {
	Schema     SchemaSource
	Rewriter   *sqlgen.Rewriter
	Validator  *sql.Validator
	Executor   Executor
	Extraction llm.LLMClient
	Formatting llm.LLMClient
	Generator  SQLGenerator
	Loader     ModelLoader
	History    conversation.Store
	Metrics    *metrics.Recorder
}

// Request is one question from a caller.
type Request struct {
	Query          string
	ConversationID string
	Role           string
}

// Response is the uniform answer shape for every terminal stage.
type Response struct {
	Message            string         `json:"message"`
	Results            []database.Row `json:"results"`
	RowCount           int            `json:"row_count"`
	Truncated          bool           `json:"truncated,omitempty"`
	Confidence         float64        `json:"confidence"`
	Stage              Stage          `json:"stage"`
	NeedsClarification bool           `json:"needs_clarification"`
	ConversationID     string         `json:"conversation_id"`
	Error              string         `json:"error,omitempty"`

	// Internal detail for logging and tests; never serialised to callers.
	Intent    *models.Intent `json:"-"`
	SQL       string         `json:"-"`
	ErrorKind ErrorKind      `json:"-"`
	FailedAt  Stage          `json:"-"`
}

// Pipeline runs question turns. It holds no per-turn state and is safe for
// concurrent use.
type Pipeline struct {
	cfg Config

	schema     SchemaSource
	rewriter   *sqlgen.Rewriter
	validator  *sql.Validator
	executor   Executor
	extraction llm.LLMClient
	formatting llm.LLMClient
	generator  SQLGenerator
	fallback   SQLGenerator
	loader     ModelLoader
	history    conversation.Store
	metrics    *metrics.Recorder

	logger *zap.Logger
}

// New creates a pipeline.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Schema == nil:
		return nil, errors.New("pipeline: schema source is required")
	case deps.Rewriter == nil:
		return nil, errors.New("pipeline: rewriter is required")
	case deps.Validator == nil:
		return nil, errors.New("pipeline: validator is required")
	case deps.Executor == nil:
		return nil, errors.New("pipeline: executor is required")
	case deps.Extraction == nil || deps.Formatting == nil:
		return nil, errors.New("pipeline: extraction and formatting clients are required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: sql generator is required")
	}

	switch cfg.Mode {
	case "":
		cfg.Mode = ModeStrict
	case ModeStrict, ModeLegacy:
	default:
		return nil, fmt.Errorf("pipeline: unknown mode %q", cfg.Mode)
	}
	if cfg.CurrencySymbol == "" {
		cfg.CurrencySymbol = "₱"
	}

	return &Pipeline{
		cfg:        cfg,
		schema:     deps.Schema,
		rewriter:   deps.Rewriter,
		validator:  deps.Validator,
		executor:   deps.Executor,
		extraction: deps.Extraction,
		formatting: deps.Formatting,
		generator:  deps.Generator,
		fallback:   NewTemplateSQLGenerator(),
		loader:     deps.Loader,
		history:    deps.History,
		metrics:    deps.Metrics,
		logger:     logger.Named("pipeline"),
	}, nil
}

// turn is the state of one Run call.
type turn struct {
	query          string
	role           models.Role
	conversationID uuid.UUID
	start          time.Time

	stage  Stage
	intent *models.Intent
	sql    string
}

// Run answers one question. The returned error is non-nil only for invalid
// input (empty or over-long query, unknown role, malformed conversation id),
// which is rejected before any stage runs. Every other failure is reported in
// the Response.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperrors.ErrEmptyQuery
	}
	if n := utf8.RuneCountInString(query); p.cfg.MaxQueryLength > 0 && n > p.cfg.MaxQueryLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", apperrors.ErrQueryTooLong, n, p.cfg.MaxQueryLength)
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidRole, req.Role)
	}
	conversationID, err := conversation.ParseConversationID(req.ConversationID)
	if err != nil {
		return nil, err
	}

	t := &turn{
		query:          query,
		role:           role,
		conversationID: conversationID,
		start:          time.Now(),
		stage:          StageReceivingQuery,
	}

	resp := p.answer(ctx, t)
	p.finish(ctx, t, resp)
	return resp, nil
}

func (p *Pipeline) answer(ctx context.Context, t *turn) *Response {
	if p.loader != nil {
		if err := p.loader.Ensure(ctx); err != nil {
			return p.fail(t, newError(KindModelLoad, t.stage, fmt.Errorf("%w: %w", apperrors.ErrServiceUnavailable, err)))
		}
	}

	t.stage = StageExtractingIntent
	intent, perr := p.extractIntent(ctx, t)
	if perr != nil {
		return p.fail(t, perr)
	}
	t.intent = intent

	switch {
	case intent.WantsClarification():
		return p.clarify(t)
	case intent.IsOutOfScope():
		return p.outOfScope(t)
	}

	if intent.SourceTable.IsZero() {
		if table, ok := p.schema.DetectSourceTable(t.query); ok {
			p.logger.Debug("Detected source table from question", zap.String("source_table", string(table)))
			intent.SourceTable = table
		}
	}

	p.screenFilters(t)

	outcome := p.buildSQL(ctx, t)
	if !outcome.ok() {
		return p.fail(t, outcome.err)
	}
	t.sql = outcome.sql

	t.stage = StageExecuting
	result, err := p.executor.Execute(ctx, t.sql)
	if err != nil {
		return p.fail(t, newError(KindExecution, StageExecuting, err))
	}
	p.metrics.RowsReturned(len(result.Rows))

	t.stage = StageFormatting
	message, perr := p.formatAnswer(ctx, t, result)
	if perr != nil {
		return p.fail(t, perr)
	}

	confidence := confidenceAnswered
	if len(result.Rows) == 0 {
		confidence = confidenceNoRows
	}

	t.stage = StageDone
	return &Response{
		Message:        message,
		Results:        result.Rows,
		RowCount:       len(result.Rows),
		Truncated:      result.Truncated,
		Confidence:     confidence,
		Stage:          StageDone,
		ConversationID: t.conversationID.String(),
		Intent:         t.intent,
		SQL:            t.sql,
	}
}

func (p *Pipeline) extractIntent(ctx context.Context, t *turn) (*models.Intent, *Error) {
	system := extractionSystemMessage(p.schema.GetSchema(ctx))
	prompt := extractionPrompt(p.recentHistory(ctx, t.conversationID), t.query)

	result, err := p.extraction.GenerateResponse(ctx, prompt, system, p.cfg.Temperature)
	recordModelCall(p.metrics, llm.PurposeExtraction, err)
	if err != nil {
		return nil, newError(KindGeneration, StageExtractingIntent, fmt.Errorf("extraction model: %w", err))
	}

	raw, err := llm.ExtractJSONObject(result.Content)
	if err != nil {
		p.logger.Warn("Extraction response had no JSON object",
			zap.String("response", logging.SanitizePrompt(result.Content)))
		return nil, newError(KindGeneration, StageExtractingIntent, err)
	}

	var intent models.Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, newError(KindGeneration, StageExtractingIntent, fmt.Errorf("decode intent: %w", err))
	}
	return &intent, nil
}

func (p *Pipeline) recentHistory(ctx context.Context, conversationID uuid.UUID) string {
	if p.history == nil || p.cfg.HistoryTurns <= 0 {
		return ""
	}
	turns, err := p.history.Recent(ctx, conversationID, p.cfg.HistoryTurns)
	if err != nil {
		p.logger.Warn("Failed to load conversation history",
			zap.String("conversation_id", conversationID.String()),
			zap.String("error", logging.SanitizeError(err)))
		return ""
	}
	return conversation.FormatHistory(turns)
}

// screenFilters fingerprints filter values before they reach SQL. Hits are
// only logged and counted; the injector strips quotes either way.
func (p *Pipeline) screenFilters(t *turn) {
	for _, hit := range sql.ScreenFilterValues(t.intent.Filters) {
		p.logger.Warn("Suspicious filter value",
			zap.String("conversation_id", t.conversationID.String()),
			zap.String("filter_key", string(hit.FilterKey)),
			zap.String("fingerprint", hit.Fingerprint),
			zap.String("value", logging.TruncateString(hit.Value, 80)))
		p.metrics.SuspiciousFilterValue(string(hit.FilterKey))
	}
}

// buildSQL runs the SQL stage with the configured generator. In legacy mode a
// failed candidate is retried once through the template builder; the first
// failure is reported if the retry fails too.
func (p *Pipeline) buildSQL(ctx context.Context, t *turn) sqlOutcome {
	outcome := p.candidateSQL(ctx, t, p.generator)
	if outcome.ok() || p.cfg.Mode != ModeLegacy {
		return outcome
	}
	if _, isTemplate := p.generator.(*TemplateSQLGenerator); isTemplate {
		return outcome
	}

	p.logger.Info("Retrying SQL generation with template builder",
		zap.String("conversation_id", t.conversationID.String()),
		zap.String("error_kind", string(outcome.err.Kind)))
	p.metrics.TemplateRetry()

	if retry := p.candidateSQL(ctx, t, p.fallback); retry.ok() {
		return retry
	}
	return outcome
}

// candidateSQL generates skeleton SQL, rewrites it onto ai_documents, injects
// the filters and validates the result for the caller's role.
func (p *Pipeline) candidateSQL(ctx context.Context, t *turn, gen SQLGenerator) sqlOutcome {
	t.stage = StageGeneratingSQL
	skeleton, err := gen.Generate(ctx, t.query, t.intent)
	if err != nil {
		return sqlOutcome{err: newError(KindGeneration, StageGeneratingSQL, err)}
	}

	candidate := sqlgen.Inject(p.rewriter.Rewrite(ctx, skeleton, t.intent), t.intent)

	t.stage = StageValidatingSQL
	verdict := p.validator.Validate(candidate, t.role)
	if !verdict.IsValid {
		t.sql = candidate
		e := newError(KindValidation, StageRejected, fmt.Errorf("sql rejected: %s", strings.Join(verdict.Errors(), "; ")))
		e.UserMessage = verdict.UserMessage
		return sqlOutcome{err: e}
	}
	return sqlOutcome{sql: verdict.SanitizedSQL}
}

func (p *Pipeline) formatAnswer(ctx context.Context, t *turn, result *database.Result) (string, *Error) {
	system := formattingSystemMessage(t.intent.SourceTable, p.cfg.CurrencySymbol)
	prompt := formattingPrompt(t.query, summarizeRows(result.Rows, result.Truncated))

	answer, err := p.formatting.GenerateResponse(ctx, prompt, system, p.cfg.Temperature)
	recordModelCall(p.metrics, llm.PurposeFormatting, err)
	if err != nil {
		return "", newError(KindGeneration, StageFormatting, fmt.Errorf("formatting model: %w", err))
	}

	message := strings.TrimSpace(answer.Content)
	if message == "" {
		return "", newError(KindGeneration, StageFormatting, errEmptyAnswer)
	}
	return message, nil
}

func (p *Pipeline) clarify(t *turn) *Response {
	question := t.intent.ClarificationQuestion
	if question == "" {
		question = DefaultClarificationQuestion
	}
	t.stage = StageNeedsClarification
	return &Response{
		Message:            question,
		Results:            []database.Row{},
		Confidence:         confidenceClarify,
		Stage:              StageNeedsClarification,
		NeedsClarification: true,
		ConversationID:     t.conversationID.String(),
		Intent:             t.intent,
	}
}

func (p *Pipeline) outOfScope(t *turn) *Response {
	message := t.intent.OutOfScopeMessage
	if message == "" {
		message = DefaultOutOfScopeMessage
	}
	t.stage = StageOutOfScope
	return &Response{
		Message:        message,
		Results:        []database.Row{},
		Confidence:     confidenceOutOfScope,
		Stage:          StageOutOfScope,
		ConversationID: t.conversationID.String(),
		Intent:         t.intent,
	}
}

func (p *Pipeline) fail(t *turn, e *Error) *Response {
	fields := []zap.Field{
		zap.String("conversation_id", t.conversationID.String()),
		zap.String("error_kind", string(e.Kind)),
		zap.String("failed_at", string(e.Stage)),
		zap.String("error", logging.SanitizeError(e.Cause)),
	}
	if t.sql != "" {
		fields = append(fields, zap.String("sql", logging.SanitizeQuery(t.sql)))
	}
	if e.Kind == KindValidation {
		p.logger.Warn("Turn failed", fields...)
	} else {
		p.logger.Error("Turn failed", fields...)
	}

	t.stage = StageFailed
	return &Response{
		Message:        e.UserMessage,
		Results:        []database.Row{},
		Confidence:     confidenceFailed,
		Stage:          StageFailed,
		ConversationID: t.conversationID.String(),
		Error:          string(e.Kind),
		Intent:         t.intent,
		SQL:            t.sql,
		ErrorKind:      e.Kind,
		FailedAt:       e.Stage,
	}
}

// finish records every terminal turn in the history store and metrics.
func (p *Pipeline) finish(ctx context.Context, t *turn, resp *Response) {
	elapsed := time.Since(t.start)
	p.metrics.TurnFinished(string(resp.Stage), string(resp.ErrorKind), elapsed)

	if p.history != nil {
		err := p.history.Append(context.WithoutCancel(ctx), &conversation.Turn{
			ConversationID: t.conversationID,
			Query:          t.query,
			Response:       resp.Message,
			Stage:          string(resp.Stage),
			Intent:         t.intent,
			SQL:            resp.SQL,
			RowCount:       resp.RowCount,
			ErrorKind:      string(resp.ErrorKind),
		})
		if err != nil {
			p.logger.Warn("Failed to save conversation turn",
				zap.String("conversation_id", t.conversationID.String()),
				zap.String("error", logging.SanitizeError(err)))
		}
	}

	p.logger.Info("Turn finished",
		zap.String("conversation_id", t.conversationID.String()),
		zap.String("role", string(t.role)),
		zap.String("stage", string(resp.Stage)),
		zap.String("error_kind", string(resp.ErrorKind)),
		zap.Int("rows", resp.RowCount),
		zap.Duration("elapsed", elapsed))
}
