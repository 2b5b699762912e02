package pipeline

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
)

// extractionSystemMessage tells the extraction model the shape of the intent
// object and the tables it may name.
func extractionSystemMessage(snapshot schema.Schema) string {
	var sb strings.Builder

	sb.WriteString("You classify questions about a company's construction business records.\n")
	sb.WriteString("Respond with a single JSON object and nothing else.\n\n")

	sb.WriteString("## Tables\n")
	for _, table := range snapshot.Tables() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", table, strings.Join(snapshot[table], ", ")))
	}

	sb.WriteString("\n## Response format\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "intent_type": one of ` + quotedList(intentTypeNames()) + ",\n")
	sb.WriteString(`  "source_table": one of ` + quotedList(tableNames()) + " or null when unsure,\n")
	sb.WriteString(`  "entities": the names, categories or places mentioned in the question,` + "\n")
	sb.WriteString(`  "filters": an object using only the keys ` + quotedList(filterKeyNames()) + ",\n")
	sb.WriteString(`  "needs_clarification": true only if the question cannot be answered without more detail,` + "\n")
	sb.WriteString(`  "clarification_question": the question to ask back when needs_clarification is true,` + "\n")
	sb.WriteString(`  "out_of_scope_message": a short reply when intent_type is out_of_scope` + "\n")
	sb.WriteString("}\n\n")

	sb.WriteString("## Rules\n")
	sb.WriteString("- Use out_of_scope for anything that is not about the records above.\n")
	sb.WriteString("- file_name is the sheet or file a record came from, such as a person's or site's name.\n")
	sb.WriteString("- supplier is who material was bought from.\n")
	sb.WriteString("- Only include filters the user actually mentioned.\n")

	return sb.String()
}

// extractionPrompt combines the recent conversation with the new question.
func extractionPrompt(history, query string) string {
	var sb strings.Builder
	if history != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

// sqlSystemMessage describes every logical table as if its metadata keys were
// flat columns. The rewriter maps them onto ai_documents afterwards.
func sqlSystemMessage(snapshot schema.Schema) string {
	var sb strings.Builder

	sb.WriteString("You write a single PostgreSQL SELECT statement that answers the user's question.\n")
	sb.WriteString("Return only the SQL in a ```sql code block.\n\n")
	sb.WriteString("## Tables\n")
	for _, table := range snapshot.Tables() {
		cols := append([]string{"file_name", "project_name"}, snapshot[table]...)
		sb.WriteString(fmt.Sprintf("- %s(%s)\n", strings.ToLower(string(table)), strings.Join(cols, ", ")))
	}

	sb.WriteString("\n## Rules\n")
	sb.WriteString("- Never modify data.\n")
	sb.WriteString("- Use = for names and categories; matching is made fuzzy later.\n")
	sb.WriteString("- Use SUM, AVG, MIN or MAX directly on amount columns.\n")
	sb.WriteString("- Do not end the statement with a semicolon.\n")
	return sb.String()
}

func sqlPrompt(query string, intent *models.Intent) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\nIntent: ")
	sb.WriteString(string(intent.Type))
	if !intent.SourceTable.IsZero() {
		sb.WriteString("\nTable: ")
		sb.WriteString(strings.ToLower(string(intent.SourceTable)))
	}
	return sb.String()
}

// formattingSystemMessage holds the answer-writing rules for the table set.
func formattingSystemMessage(table models.SourceTable, currency string) string {
	var sb strings.Builder

	sb.WriteString("You answer questions about business records using the query results provided.\n\n")
	sb.WriteString("## Rules\n")
	sb.WriteString("- Always state the exact number of records found.\n")
	sb.WriteString("- If the results say more rows exist, say the list was cut off and give the shown count as a minimum.\n")
	sb.WriteString(fmt.Sprintf("- Write money amounts with the %s symbol and two decimals.\n", currency))
	sb.WriteString("- Never show SQL, table names or column names.\n")
	sb.WriteString("- If no records were found, say so plainly.\n")
	sb.WriteString("- Keep the answer short.\n")

	switch table {
	case models.SourceExpenses:
		sb.WriteString("- Group expenses by category when listing more than one.\n")
	case models.SourceCashFlow:
		sb.WriteString("- Keep cash in and cash out separate.\n")
	case models.SourceQuotation, models.SourceQuotationItem:
		sb.WriteString("- Mention quote numbers or plate numbers when they are shown.\n")
	}
	return sb.String()
}

func formattingPrompt(query, summary string) string {
	return fmt.Sprintf("Question: %s\n\nResults:\n%s", query, summary)
}

func intentTypeNames() []string {
	types := []models.IntentType{
		models.IntentListFiles, models.IntentQueryData, models.IntentSum, models.IntentCount,
		models.IntentAverage, models.IntentCompare, models.IntentListCategories,
		models.IntentDateFilter, models.IntentOutOfScope,
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func tableNames() []string {
	out := make([]string, len(models.AllSourceTables))
	for i, t := range models.AllSourceTables {
		out[i] = string(t)
	}
	return out
}

func filterKeyNames() []string {
	out := make([]string, len(models.AllFilterKeys))
	for i, k := range models.AllFilterKeys {
		out[i] = string(k)
	}
	return out
}

func quotedList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = `"` + s + `"`
	}
	return strings.Join(quoted, ", ")
}
