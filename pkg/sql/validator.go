// Package sql validates generated SQL before it reaches the document store.
package sql

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// IssueKind groups validator findings. Kinds are listed in user-message priority order.
type IssueKind string

const (
	KindInjection          IssueKind = "injection"
	KindWriteOperation     IssueKind = "write_operation"
	KindAccessDenied       IssueKind = "access_denied"
	KindMultipleStatements IssueKind = "multiple_statements"
	KindSyntax             IssueKind = "syntax"
	KindEmpty              IssueKind = "empty"
)

var messagePriority = []IssueKind{
	KindInjection,
	KindWriteOperation,
	KindAccessDenied,
	KindMultipleStatements,
	KindSyntax,
}

var userMessages = map[IssueKind]string{
	KindInjection:          "That request produced a query that looks unsafe, so it was not run. Please rephrase your question.",
	KindWriteOperation:     "I can only read records. Adding, changing or deleting data is not supported.",
	KindAccessDenied:       "You don't have access to those records.",
	KindMultipleStatements: "I can only run one query at a time. Please ask a single question.",
	KindSyntax:             "I couldn't build a valid query for that question. Please try rephrasing it.",
}

const genericUserMessage = "I couldn't process that request. Please try again."

// Issue is one reason a statement was rejected.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	Reason string    `json:"reason"`
}

// Verdict is the outcome of Validate. SanitizedSQL is set only when IsValid;
// UserMessage is set only when it is not.
type Verdict struct {
	IsValid      bool
	Issues       []Issue
	SanitizedSQL string
	UserMessage  string
}

// Errors returns the issue reasons in the order they were found.
func (v Verdict) Errors() []string {
	out := make([]string, len(v.Issues))
	for i, issue := range v.Issues {
		out[i] = issue.Reason
	}
	return out
}

// Has reports whether any issue of kind was found.
func (v Verdict) Has(kind IssueKind) bool {
	for _, issue := range v.Issues {
		if issue.Kind == kind {
			return true
		}
	}
	return false
}

type injectionPattern struct {
	re     *regexp.Regexp
	reason string
	raw    bool // match against the unmasked SQL
}

var injectionPatterns = []injectionPattern{
	{re: regexp.MustCompile(`--`), reason: "SQL line comment (--) is not allowed"},
	{re: regexp.MustCompile(`/\*|\*/`), reason: "SQL block comment is not allowed"},
	{
		re:     regexp.MustCompile(`(?i);\s*(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|EXEC|EXECUTE|CALL|GRANT|REVOKE|COPY)\b`),
		reason: "statement chaining with a modifying command is not allowed",
	},
	{re: regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`), reason: "UNION SELECT is not allowed"},
	{re: regexp.MustCompile(`(?i)\bOR\s+1\s*=\s*1\b`), reason: "tautology OR 1=1 is not allowed"},
	{re: regexp.MustCompile(`(?i)\bOR\s+'1'\s*=\s*'1'`), reason: "tautology OR '1'='1' is not allowed", raw: true},
}

var writeKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE", "EXECUTE", "CALL", "GRANT", "REVOKE",
}

var writeKeywordPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(writeKeywords))
	for _, kw := range writeKeywords {
		m[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return m
}()

type tableRule struct {
	table           models.SourceTable
	byName          *regexp.Regexp
	byDiscriminator *regexp.Regexp
}

func newTableRule(table models.SourceTable) tableRule {
	name := regexp.QuoteMeta(string(table))
	return tableRule{
		table:           table,
		byName:          regexp.MustCompile(`(?i)\b` + name + `\b`),
		byDiscriminator: regexp.MustCompile(`(?i)source_table\s*=\s*'` + name + `'`),
	}
}

// Validator statically checks generated SQL. It is safe for concurrent use.
type Validator struct {
	denied  map[models.Role][]tableRule
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// NewValidator creates a validator that denies the viewer role the CashFlow table.
func NewValidator(logger *zap.Logger, recorder *metrics.Recorder) *Validator {
	return &Validator{
		denied: map[models.Role][]tableRule{
			models.RoleViewer: {newTableRule(models.SourceCashFlow)},
		},
		logger:  logger.Named("sql-validator"),
		metrics: recorder,
	}
}

// Validate checks sqlQuery for role. All checks run; every problem found is reported.
func (v *Validator) Validate(sqlQuery string, role models.Role) Verdict {
	if strings.TrimSpace(sqlQuery) == "" {
		return v.reject(sqlQuery, role, []Issue{{Kind: KindEmpty, Reason: "SQL statement is empty"}})
	}

	masked, terminated := MaskStringLiterals(sqlQuery)
	if !terminated {
		// an unterminated literal would hide the rest of the statement
		masked = sqlQuery
	}

	var issues []Issue

	for _, p := range injectionPatterns {
		target := masked
		if p.raw {
			target = sqlQuery
		}
		if p.re.MatchString(target) {
			issues = append(issues, Issue{Kind: KindInjection, Reason: p.reason})
		}
	}

	for _, kw := range writeKeywords {
		if writeKeywordPatterns[kw].MatchString(masked) {
			issues = append(issues, Issue{
				Kind:   KindWriteOperation,
				Reason: fmt.Sprintf("write operation %s is not allowed", kw),
			})
		}
	}

	stripped := StripTrailingSemicolons(sqlQuery)
	count, parseErr := CountStatements(sqlQuery)
	if hasSemicolonOutsideStrings(stripped) || count > 1 {
		issues = append(issues, Issue{Kind: KindMultipleStatements, Reason: "multiple SQL statements are not allowed"})
	}

	for _, rule := range v.rulesFor(role) {
		switch {
		case rule.byDiscriminator.MatchString(sqlQuery):
			issues = append(issues, Issue{
				Kind:   KindAccessDenied,
				Reason: fmt.Sprintf("role %s may not filter on source_table %s", role, rule.table),
			})
		case rule.byName.MatchString(sqlQuery):
			issues = append(issues, Issue{
				Kind:   KindAccessDenied,
				Reason: fmt.Sprintf("role %s may not access %s", role, rule.table),
			})
		}
	}

	switch {
	case parseErr != nil:
		issues = append(issues, Issue{Kind: KindSyntax, Reason: fmt.Sprintf("SQL could not be parsed: %v", parseErr)})
	case count == 0:
		issues = append(issues, Issue{Kind: KindSyntax, Reason: "SQL contains no statement"})
	}

	if len(issues) > 0 {
		return v.reject(sqlQuery, role, issues)
	}
	return Verdict{IsValid: true, SanitizedSQL: stripped}
}

// rulesFor returns the table restrictions for role. Unknown roles get the
// viewer's restrictions.
func (v *Validator) rulesFor(role models.Role) []tableRule {
	switch role {
	case models.RoleAdmin, models.RoleAccountant, models.RoleViewer:
		return v.denied[role]
	}
	return v.denied[models.RoleViewer]
}

func (v *Validator) reject(sqlQuery string, role models.Role, issues []Issue) Verdict {
	verdict := Verdict{
		Issues:      issues,
		UserMessage: userMessage(issues),
	}

	reasons := make([]string, len(issues))
	for i, issue := range issues {
		reasons[i] = issue.Reason
		v.metrics.ValidationIssue(string(issue.Kind))
	}
	v.logger.Warn("SQL rejected",
		zap.String("role", string(role)),
		zap.String("sql", logging.SanitizeQuery(sqlQuery)),
		zap.Strings("reasons", reasons))

	return verdict
}

func userMessage(issues []Issue) string {
	for _, kind := range messagePriority {
		for _, issue := range issues {
			if issue.Kind == kind {
				return userMessages[kind]
			}
		}
	}
	return genericUserMessage
}
