package pipeline

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
	"github.com/ekaya-inc/ekaya-ledger/pkg/sqlgen"
)

// SQLGenerator writes skeleton SQL for an intent, using flat column names.
type SQLGenerator interface {
	Generate(ctx context.Context, query string, intent *models.Intent) (string, error)
}

// SchemaSource is the part of the schema registry the pipeline reads.
type SchemaSource interface {
	sqlgen.SchemaSource
	DetectSourceTable(text string) (models.SourceTable, bool)
}

// LLMSQLGenerator asks the SQL model for a skeleton statement.
type LLMSQLGenerator struct {
	client      llm.LLMClient
	schema      SchemaSource
	temperature float64
	metrics     *metrics.Recorder
}

// NewLLMSQLGenerator creates a generator on client. recorder may be nil.
func NewLLMSQLGenerator(client llm.LLMClient, source SchemaSource, temperature float64, recorder *metrics.Recorder) *LLMSQLGenerator {
	return &LLMSQLGenerator{client: client, schema: source, temperature: temperature, metrics: recorder}
}

func (g *LLMSQLGenerator) Generate(ctx context.Context, query string, intent *models.Intent) (string, error) {
	system := sqlSystemMessage(g.schema.GetSchema(ctx))
	result, err := g.client.GenerateResponse(ctx, sqlPrompt(query, intent), system, g.temperature)
	recordModelCall(g.metrics, llm.PurposeSQL, err)
	if err != nil {
		return "", fmt.Errorf("sql model: %w", err)
	}
	return llm.ExtractSQL(result.Content)
}

// TemplateSQLGenerator builds skeleton SQL from the intent alone.
type TemplateSQLGenerator struct {
	builder *sqlgen.TemplateBuilder
}

// NewTemplateSQLGenerator creates a rule-based generator.
func NewTemplateSQLGenerator() *TemplateSQLGenerator {
	return &TemplateSQLGenerator{builder: sqlgen.NewTemplateBuilder()}
}

func (g *TemplateSQLGenerator) Generate(_ context.Context, _ string, intent *models.Intent) (string, error) {
	return g.builder.Build(intent)
}

var (
	_ SQLGenerator = (*LLMSQLGenerator)(nil)
	_ SQLGenerator = (*TemplateSQLGenerator)(nil)
	_ SchemaSource = (*schema.Registry)(nil)
)

// sqlOutcome is the result of the SQL stage: validated SQL ready to run, or
// the error that ended the turn.
type sqlOutcome struct {
	sql string
	err *Error
}

func (o sqlOutcome) ok() bool {
	return o.err == nil
}

func recordModelCall(recorder *metrics.Recorder, purpose string, err error) {
	if err != nil {
		recorder.ModelCall(purpose, string(llm.ClassifyError(err).Type))
		return
	}
	recorder.ModelCall(purpose, "ok")
}
