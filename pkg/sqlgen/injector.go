// Package sqlgen turns model-written skeleton SQL into statements against ai_documents.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// filterMetadataKeys maps filter names to the metadata key they match.
// FilterSupplier is resolved per table by metadataKeyFor.
var filterMetadataKeys = map[models.FilterKey]string{
	models.FilterProjectName: "project_name",
	models.FilterCategory:    "Category",
	models.FilterFileName:    "Name",
	models.FilterDate:        "Date",
	models.FilterStatus:      "status",
	models.FilterClientName:  "client_name",
	models.FilterPlateNo:     "plate_no",
	models.FilterDRNo:        "dr_no",
}

func metadataKeyFor(key models.FilterKey, table models.SourceTable) (string, bool) {
	if key == models.FilterSupplier {
		if table == models.SourceQuotationItem {
			return "quarry_location", true
		}
		return "Name", true
	}
	k, ok := filterMetadataKeys[key]
	return k, ok
}

// sanitizeFilterValue removes every single quote. The value always ends up
// inside a '...' literal, so with no quotes it cannot terminate it.
func sanitizeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "")
}

// FilterConditions returns one ILIKE condition per usable filter, in filter order.
// Filters with unknown keys or values that are empty after sanitising are skipped.
func FilterConditions(intent *models.Intent) []string {
	if intent == nil {
		return nil
	}

	var conds []string
	for _, f := range intent.Filters {
		key, ok := metadataKeyFor(f.Key, intent.SourceTable)
		if !ok {
			continue
		}
		value := sanitizeFilterValue(f.Value)
		if value == "" {
			continue
		}
		conds = append(conds, fmt.Sprintf("metadata->>'%s' ILIKE '%%%s%%'", key, value))
	}
	return conds
}

// Inject splices the intent's filters into sqlQuery as case-insensitive
// containment matches on metadata. With no usable filters sqlQuery is returned
// unchanged. Inject has no side effects.
func Inject(sqlQuery string, intent *models.Intent) string {
	conds := FilterConditions(intent)
	if len(conds) == 0 {
		return sqlQuery
	}
	return spliceCondition(sqlQuery, strings.Join(conds, " AND "))
}
