package sqlgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
	"github.com/ekaya-inc/ekaya-ledger/pkg/sql"
)

func TestTemplateBuilder_Build(t *testing.T) {
	tests := []struct {
		name   string
		intent *models.Intent
		want   string
	}{
		{
			name:   "list files across tables",
			intent: &models.Intent{Type: models.IntentListFiles},
			want:   "SELECT DISTINCT file_name, project_name FROM ai_documents WHERE document_type = 'file' ORDER BY file_name LIMIT 100",
		},
		{
			name:   "sum of expenses",
			intent: &models.Intent{Type: models.IntentSum, SourceTable: models.SourceExpenses},
			want:   "SELECT SUM(expenses) AS total FROM expenses WHERE document_type = 'row'",
		},
		{
			name:   "average cash flow",
			intent: &models.Intent{Type: models.IntentAverage, SourceTable: models.SourceCashFlow},
			want:   "SELECT AVG(amount) AS average FROM cashflow WHERE document_type = 'row'",
		},
		{
			name:   "count projects",
			intent: &models.Intent{Type: models.IntentCount, SourceTable: models.SourceProject},
			want:   "SELECT COUNT(*) AS total FROM project WHERE document_type = 'row'",
		},
		{
			name:   "compare quotations by total",
			intent: &models.Intent{Type: models.IntentCompare, SourceTable: models.SourceQuotation},
			want:   "SELECT file_name, SUM(total_amount) AS total FROM quotation WHERE document_type = 'row' GROUP BY file_name ORDER BY total DESC",
		},
		{
			name:   "compare without an amount column counts rows",
			intent: &models.Intent{Type: models.IntentCompare, SourceTable: models.SourceProject},
			want:   "SELECT file_name, COUNT(*) AS total FROM project WHERE document_type = 'row' GROUP BY file_name ORDER BY total DESC",
		},
		{
			name:   "row query",
			intent: &models.Intent{Type: models.IntentDateFilter, SourceTable: models.SourceQuotationItem},
			want:   "SELECT file_name, project_name, metadata FROM quotationitem WHERE document_type = 'row' LIMIT 100",
		},
		{
			name:   "categories",
			intent: &models.Intent{Type: models.IntentListCategories, SourceTable: models.SourceExpenses},
			want:   "SELECT DISTINCT metadata->>'Category' AS category FROM expenses ORDER BY category",
		},
	}

	b := NewTemplateBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Build(tt.intent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateBuilder_NoTemplate(t *testing.T) {
	tests := []struct {
		name   string
		intent *models.Intent
	}{
		{name: "nil intent", intent: nil},
		{name: "sum without a table", intent: &models.Intent{Type: models.IntentSum}},
		{name: "average of projects", intent: &models.Intent{Type: models.IntentAverage, SourceTable: models.SourceProject}},
		{name: "out of scope", intent: &models.Intent{Type: models.IntentOutOfScope}},
		{name: "clarification", intent: &models.Intent{Type: models.IntentClarification}},
	}

	b := NewTemplateBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(tt.intent)
			assert.ErrorIs(t, err, ErrNoTemplate)
		})
	}
}

func TestTemplateBuilder_OutputSurvivesRewriteAndValidation(t *testing.T) {
	r := NewRewriter(schema.NewRegistry(nil, zap.NewNop()), zap.NewNop())
	v := sql.NewValidator(zap.NewNop(), nil)
	b := NewTemplateBuilder()

	for _, table := range models.AllSourceTables {
		for _, typ := range []models.IntentType{
			models.IntentListFiles, models.IntentQueryData, models.IntentSum, models.IntentAverage,
			models.IntentCount, models.IntentCompare, models.IntentListCategories,
		} {
			intent := &models.Intent{
				Type:        typ,
				SourceTable: table,
				Filters:     []models.Filter{{Key: models.FilterProjectName, Value: "Ayala"}},
			}
			skeleton, err := b.Build(intent)
			if err != nil {
				continue
			}

			out := Inject(r.Rewrite(context.Background(), skeleton, intent), intent)
			assert.Contains(t, out, "FROM ai_documents", "%s/%s", table, typ)
			assert.Contains(t, out, "source_table = '"+string(table)+"'", "%s/%s", table, typ)

			if typ != models.IntentListFiles && typ != models.IntentListCategories {
				assert.Contains(t, out, "document_type = 'row'", "%s/%s", table, typ)
			}

			verdict := v.Validate(out, models.RoleAdmin)
			assert.True(t, verdict.IsValid, "%s/%s: %v (%s)", table, typ, verdict.Errors(), out)
		}
	}
}
