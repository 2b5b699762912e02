package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// ErrNoTemplate is returned for intents that never produce SQL.
var ErrNoTemplate = errors.New("no SQL template for intent")

// amountKeys is the column each table's money totals are read from, as the
// flat name a model would write. The rewriter turns it into a numeric metadata cast.
var amountKeys = map[models.SourceTable]string{
	models.SourceExpenses:      "expenses",
	models.SourceCashFlow:      "amount",
	models.SourceQuotation:     "total_amount",
	models.SourceQuotationItem: "line_total",
}

const templateRowLimit = 100

// rowsOnly keeps file summary documents out of aggregates so totals are not
// counted twice.
const rowsOnly = "document_type = 'row'"

// TemplateBuilder writes skeleton SQL from an intent without a model. It is the
// legacy pipeline's retry path and the "template" SQL generator. Output uses flat
// column names and must go through Rewriter and Inject like model-written SQL.
type TemplateBuilder struct{}

// NewTemplateBuilder creates a TemplateBuilder.
func NewTemplateBuilder() *TemplateBuilder {
	return &TemplateBuilder{}
}

// Build returns skeleton SQL for intent.
func (b *TemplateBuilder) Build(intent *models.Intent) (string, error) {
	if intent == nil {
		return "", fmt.Errorf("%w: nil intent", ErrNoTemplate)
	}

	from := models.PhysicalTable
	if !intent.SourceTable.IsZero() {
		from = strings.ToLower(string(intent.SourceTable))
	}
	amount, hasAmount := amountKeys[intent.SourceTable]

	switch intent.Type {
	case models.IntentListFiles:
		return fmt.Sprintf("SELECT DISTINCT file_name, project_name FROM %s WHERE document_type = 'file' ORDER BY file_name LIMIT %d",
			from, templateRowLimit), nil

	case models.IntentQueryData, models.IntentDateFilter:
		return fmt.Sprintf("SELECT file_name, project_name, metadata FROM %s WHERE document_type = 'row' LIMIT %d",
			from, templateRowLimit), nil

	case models.IntentSum:
		if !hasAmount {
			return "", fmt.Errorf("%w: sum needs a table with an amount column", ErrNoTemplate)
		}
		return fmt.Sprintf("SELECT SUM(%s) AS total FROM %s WHERE %s", amount, from, rowsOnly), nil

	case models.IntentAverage:
		if !hasAmount {
			return "", fmt.Errorf("%w: average needs a table with an amount column", ErrNoTemplate)
		}
		return fmt.Sprintf("SELECT AVG(%s) AS average FROM %s WHERE %s", amount, from, rowsOnly), nil

	case models.IntentCount:
		return fmt.Sprintf("SELECT COUNT(*) AS total FROM %s WHERE %s", from, rowsOnly), nil

	case models.IntentCompare:
		if !hasAmount {
			return fmt.Sprintf("SELECT file_name, COUNT(*) AS total FROM %s WHERE %s GROUP BY file_name ORDER BY total DESC", from, rowsOnly), nil
		}
		return fmt.Sprintf("SELECT file_name, SUM(%s) AS total FROM %s WHERE %s GROUP BY file_name ORDER BY total DESC", amount, from, rowsOnly), nil

	case models.IntentListCategories:
		return fmt.Sprintf("SELECT DISTINCT metadata->>'Category' AS category FROM %s ORDER BY category", from), nil
	}

	return "", fmt.Errorf("%w: %s", ErrNoTemplate, intent.Type)
}
