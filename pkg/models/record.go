package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PhysicalTable is the single table every logical record is stored in.
const PhysicalTable = "ai_documents"

// SourceTable is the discriminator stored in ai_documents.source_table.
type SourceTable string

const (
	SourceExpenses      SourceTable = "Expenses"
	SourceCashFlow      SourceTable = "CashFlow"
	SourceProject       SourceTable = "Project"
	SourceQuotation     SourceTable = "Quotation"
	SourceQuotationItem SourceTable = "QuotationItem"
)

// AllSourceTables lists the supported discriminators in a stable order.
var AllSourceTables = []SourceTable{
	SourceExpenses,
	SourceCashFlow,
	SourceProject,
	SourceQuotation,
	SourceQuotationItem,
}

// String returns the discriminator value.
func (t SourceTable) String() string {
	return string(t)
}

// IsZero reports whether no table is set, meaning a cross-table search.
func (t SourceTable) IsZero() bool {
	return t == ""
}

// ParseSourceTable matches s against the supported tables ignoring case,
// underscores and spaces ("cash_flow" and "cashflow" both give CashFlow).
func ParseSourceTable(s string) (SourceTable, bool) {
	norm := normalizeTableName(s)
	if norm == "" {
		return "", false
	}
	for _, t := range AllSourceTables {
		if normalizeTableName(string(t)) == norm {
			return t, true
		}
	}
	return "", false
}

func normalizeTableName(s string) string {
	r := strings.NewReplacer("_", "", " ", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// DocumentType distinguishes parent file records from line-item rows.
type DocumentType string

const (
	DocumentTypeFile DocumentType = "file"
	DocumentTypeRow  DocumentType = "row"
)

// LogicalRecord is one row of ai_documents. Valid Metadata keys depend on SourceTable.
type LogicalRecord struct {
	ID             uuid.UUID      `json:"id"`
	SourceTable    SourceTable    `json:"source_table"`
	FileName       string         `json:"file_name"`
	ProjectName    string         `json:"project_name,omitempty"`
	DocumentType   DocumentType   `json:"document_type"`
	SearchableText string         `json:"searchable_text,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Role is the caller's access role, checked by the SQL validator.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	// RoleViewer is the least-privileged role.
	RoleViewer Role = "viewer"
)

// ParseRole returns the role named by s (case-insensitive).
// An empty string defaults to viewer.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleViewer:
		return RoleViewer, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleAccountant:
		return RoleAccountant, true
	}
	return "", false
}
