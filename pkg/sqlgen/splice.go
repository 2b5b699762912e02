package sqlgen

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-ledger/pkg/sql"
)

const (
	trailingNoise   = " \t\r\n;"
	whitespaceChars = " \t\r\n"
)

var (
	whereKeyword   = regexp.MustCompile(`(?i)\bWHERE\b`)
	trailingClause = regexp.MustCompile(`(?i)\b(ORDER\s+BY|GROUP\s+BY|LIMIT)\b`)
	orKeyword      = regexp.MustCompile(`(?i)\bOR\b`)
)

// spliceCondition ANDs cond into the top-level WHERE of sqlQuery, adding a WHERE
// if there is none. The condition goes before the first ORDER BY, GROUP BY or
// LIMIT that follows the WHERE (or the end of the statement). Keywords inside
// string literals and parenthesised subqueries are ignored. An existing predicate
// with a top-level OR is parenthesised first so the new condition binds to all of it.
// Trailing semicolons are kept.
func spliceCondition(sqlQuery, cond string) string {
	body := strings.TrimRight(sqlQuery, trailingNoise)
	tail := sqlQuery[len(body):]

	masked, _ := sql.MaskStringLiterals(body)
	depth := parenDepths(masked)

	where := firstTopLevel(whereKeyword, masked, depth, 0)
	if where == nil {
		at := len(body)
		if clause := firstTopLevel(trailingClause, masked, depth, 0); clause != nil {
			at = clause[0]
		}
		return joinAround(body[:at], " WHERE "+cond, body[at:]) + tail
	}

	predStart := where[1]
	at := len(body)
	if clause := firstTopLevel(trailingClause, masked, depth, predStart); clause != nil {
		at = clause[0]
	}

	predicate := strings.TrimSpace(body[predStart:at])
	if predicate != "" && firstTopLevel(orKeyword, masked[:at], depth, predStart) != nil {
		return joinAround(body[:predStart], " ("+predicate+") AND "+cond, body[at:]) + tail
	}
	return joinAround(body[:at], " AND "+cond, body[at:]) + tail
}

// joinAround concatenates left, mid and right with single spaces at the seams.
// mid must start with a space.
func joinAround(left, mid, right string) string {
	left = strings.TrimRight(left, whitespaceChars)
	right = strings.TrimLeft(right, whitespaceChars)
	if right == "" {
		return left + mid
	}
	return left + mid + " " + right
}

// parenDepths returns the parenthesis nesting depth at every byte of s.
func parenDepths(s string) []int {
	depths := make([]int, len(s))
	d := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ')' && d > 0 {
			d--
		}
		depths[i] = d
		if s[i] == '(' {
			d++
		}
	}
	return depths
}

// firstTopLevel returns the first match of re in s at or after from whose
// start is at paren depth zero.
func firstTopLevel(re *regexp.Regexp, s string, depth []int, from int) []int {
	for _, loc := range re.FindAllStringIndex(s[from:], -1) {
		start := loc[0] + from
		if depth[start] == 0 {
			return []int{start, loc[1] + from}
		}
	}
	return nil
}
