package sqlgen

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
	"github.com/ekaya-inc/ekaya-ledger/pkg/sql"
)

// SchemaSource is the part of the schema registry the rewriter reads.
type SchemaSource interface {
	GetSchema(ctx context.Context) schema.Schema
	IsNumericKey(key string) bool
}

// notMetadataColumns are real ai_documents columns or SQL words; an
// "ident = 'v'" on one of them is never treated as a metadata key.
var notMetadataColumns = map[string]struct{}{
	"source_table": {}, "file_name": {}, "project_name": {}, "document_type": {},
	"metadata": {}, "id": {}, "searchable_text": {}, "created_at": {},

	"select": {}, "from": {}, "where": {}, "and": {}, "or": {}, "not": {}, "null": {},
	"true": {}, "false": {}, "case": {}, "when": {}, "then": {}, "else": {}, "end": {},
	"as": {}, "on": {}, "in": {}, "is": {}, "like": {}, "ilike": {}, "between": {},
	"having": {}, "group": {}, "order": {}, "by": {}, "limit": {}, "offset": {},
	"distinct": {}, "all": {}, "any": {}, "some": {}, "exists": {}, "join": {},
	"left": {}, "right": {}, "inner": {}, "outer": {}, "full": {}, "cross": {},
	"union": {}, "with": {}, "current_date": {}, "current_timestamp": {}, "interval": {},
}

// functions whose argument syntax contains a FROM that is not a table reference
var fromFunctions = map[string]struct{}{
	"extract": {}, "substring": {}, "trim": {}, "position": {}, "overlay": {},
}

const keyBoundary = `(^|[^\w'".>])`

// sqlString matches a single-quoted literal, including '' escapes.
const sqlString = `'((?:''|[^'])*)'`

var (
	passthroughEquality = regexp.MustCompile(keyBoundary + `([A-Za-z_][A-Za-z0-9_]*)\s*=\s*` + sqlString)
	firstClassEquality  = regexp.MustCompile(`(?i)` + keyBoundary + `(file_name|project_name)\s*=\s*` + sqlString)
	fromTable           = regexp.MustCompile(`(?i)\bFROM\s+("[^"]+"|[A-Za-z_][A-Za-z0-9_.]*)`)
	functionBeforeParen = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*$`)
)

type keyPatterns struct {
	equality  *regexp.Regexp
	like      *regexp.Regexp
	aggregate *regexp.Regexp
}

type candidateKey struct {
	proper string
	*keyPatterns
}

func compileKeyPatterns(lower string) *keyPatterns {
	q := regexp.QuoteMeta(lower)
	return &keyPatterns{
		equality:  regexp.MustCompile(`(?i)` + keyBoundary + `(` + q + `)\s*=\s*(?:` + sqlString + `|"([^"]*)")`),
		like:      regexp.MustCompile(`(?i)` + keyBoundary + `(` + q + `)\s+I?LIKE\s+`),
		aggregate: regexp.MustCompile(`(?i)\b(SUM|COUNT|AVG|MIN|MAX)\s*\(\s*(` + q + `)\s*\)`),
	}
}

// Rewriter translates flat column references in skeleton SQL into JSONB accessors
// on ai_documents.metadata. It must run before Inject: it fixes the FROM clause and
// adds the source_table filter that Inject's WHERE handling relies on.
type Rewriter struct {
	schema   SchemaSource
	logger   *zap.Logger
	patterns sync.Map // lower-case key -> *keyPatterns
}

// NewRewriter creates a rewriter backed by the schema registry.
func NewRewriter(source SchemaSource, logger *zap.Logger) *Rewriter {
	return &Rewriter{schema: source, logger: logger.Named("sql-rewriter")}
}

// Rewrite applies, in order: metadata key rewrites (equality, LIKE, aggregates),
// the passthrough for unknown keys, the FROM ai_documents rewrite, fuzzy matching
// on file_name and project_name, the source_table filter, and finally strips
// trailing semicolons.
func (r *Rewriter) Rewrite(ctx context.Context, sqlQuery string, intent *models.Intent) string {
	table := models.SourceTable("")
	if intent != nil {
		table = intent.SourceTable
	}

	out := sqlQuery
	for _, kp := range r.candidateKeys(ctx, table) {
		out = replaceOutsideLiterals(out, kp.equality, func(m []string) string {
			return fmt.Sprintf("%smetadata->>'%s' ILIKE '%%%s%%'", m[1], kp.proper, likeValue(m[3]+m[4]))
		})
		out = replaceOutsideLiterals(out, kp.like, func(m []string) string {
			return fmt.Sprintf("%smetadata->>'%s' ILIKE ", m[1], kp.proper)
		})
		out = replaceOutsideLiterals(out, kp.aggregate, func(m []string) string {
			agg := strings.ToUpper(m[1])
			if r.schema.IsNumericKey(kp.proper) {
				return fmt.Sprintf("%s((metadata->>'%s')::numeric)", agg, kp.proper)
			}
			return fmt.Sprintf("%s(metadata->>'%s')", agg, kp.proper)
		})
	}

	out = replaceOutsideLiterals(out, passthroughEquality, func(m []string) string {
		if _, skip := notMetadataColumns[strings.ToLower(m[2])]; skip {
			return m[0]
		}
		return fmt.Sprintf("%smetadata->>'%s' ILIKE '%%%s%%'", m[1], m[2], likeValue(m[3]))
	})

	out = rewriteFromTable(out)

	out = replaceOutsideLiterals(out, firstClassEquality, func(m []string) string {
		return fmt.Sprintf("%s%s ILIKE '%%%s%%'", m[1], m[2], likeValue(m[3]))
	})

	if !table.IsZero() && !strings.Contains(strings.ToLower(out), "source_table") {
		out = spliceCondition(out, fmt.Sprintf("source_table = '%s'", table))
	}

	out = sql.StripTrailingSemicolons(out)

	if out != sqlQuery {
		r.logger.Debug("Rewrote skeleton SQL",
			zap.String("source_table", string(table)),
			zap.String("sql", logging.SanitizeQuery(out)))
	}
	return out
}

// candidateKeys returns the metadata keys to rewrite, longest first. With a known
// table only its keys are used; otherwise every table's keys are.
func (r *Rewriter) candidateKeys(ctx context.Context, table models.SourceTable) []candidateKey {
	snapshot := r.schema.GetSchema(ctx)

	tables := snapshot.Tables()
	if _, ok := snapshot[table]; ok && !table.IsZero() {
		tables = []models.SourceTable{table}
	}

	// lower-case key -> proper casing; first table in sorted order wins
	proper := make(map[string]string)
	for _, t := range tables {
		for _, k := range snapshot[t] {
			if strings.ContainsAny(k, `'"\`) {
				continue
			}
			lower := strings.ToLower(k)
			if _, seen := proper[lower]; !seen {
				proper[lower] = k
			}
		}
	}

	lowers := make([]string, 0, len(proper))
	for l := range proper {
		lowers = append(lowers, l)
	}
	sort.Slice(lowers, func(i, j int) bool {
		if len(lowers[i]) != len(lowers[j]) {
			return len(lowers[i]) > len(lowers[j])
		}
		return lowers[i] < lowers[j]
	})

	out := make([]candidateKey, 0, len(lowers))
	for _, l := range lowers {
		out = append(out, candidateKey{proper: proper[l], keyPatterns: r.compiled(l)})
	}
	return out
}

func (r *Rewriter) compiled(lower string) *keyPatterns {
	if kp, ok := r.patterns.Load(lower); ok {
		return kp.(*keyPatterns)
	}
	kp, _ := r.patterns.LoadOrStore(lower, compileKeyPatterns(lower))
	return kp.(*keyPatterns)
}

// likeValue prepares a matched literal for '%v%': quotes are dropped and any
// wildcards already at the ends are trimmed so they are not doubled.
func likeValue(v string) string {
	return strings.Trim(sanitizeFilterValue(v), "%")
}

// replaceOutsideLiterals is regexp.ReplaceAllStringFunc restricted to matches
// whose second capture group (the column name) lies outside string literals.
// fn receives the submatches and returns the replacement for the whole match.
func replaceOutsideLiterals(s string, re *regexp.Regexp, fn func(m []string) string) string {
	masked, _ := sql.MaskStringLiterals(s)
	locs := re.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		colStart, colEnd := loc[4], loc[5]
		if colStart >= 0 && masked[colStart:colEnd] != s[colStart:colEnd] {
			continue
		}

		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = s[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(fn(m))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// rewriteFromTable points the first table reference at ai_documents, keeping
// any alias. FROM inside EXTRACT(...), SUBSTRING(...) and similar is skipped.
func rewriteFromTable(s string) string {
	masked, _ := sql.MaskStringLiterals(s)
	for _, loc := range fromTable.FindAllStringSubmatchIndex(masked, -1) {
		if insideFromFunction(masked, loc[0]) {
			continue
		}
		return s[:loc[2]] + models.PhysicalTable + s[loc[3]:]
	}
	return s
}

// insideFromFunction reports whether pos sits directly inside the parentheses
// of one of fromFunctions.
func insideFromFunction(masked string, pos int) bool {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch masked[i] {
		case ')':
			depth++
		case '(':
			if depth > 0 {
				depth--
				continue
			}
			name := functionBeforeParen.FindStringSubmatch(masked[:i])
			if name == nil {
				return false
			}
			_, ok := fromFunctions[strings.ToLower(name[1])]
			return ok
		}
	}
	return false
}
