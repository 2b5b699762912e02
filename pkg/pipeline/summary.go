package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
)

const (
	fullSummaryRows    = 10
	partialSummaryRows = 5
)

// summarizeRows renders result rows for the formatting model: every row when
// there are at most ten, otherwise the first five and the total count. A
// truncated result reports its count as a lower bound.
func summarizeRows(rows []database.Row, truncated bool) string {
	if len(rows) == 0 {
		return "No records found.\nTotal rows: 0"
	}

	shown := rows
	if len(rows) > fullSummaryRows {
		shown = rows[:partialSummaryRows]
	}

	var sb strings.Builder
	for _, row := range shown {
		b, err := json.Marshal(row)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", map[string]any(row)))
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	if len(shown) < len(rows) {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(rows)-len(shown)))
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("Showing the first %d rows; more exist.\n", len(rows)))
		sb.WriteString(fmt.Sprintf("Total rows: more than %d", len(rows)))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Total rows: %d", len(rows)))
	return sb.String()
}
