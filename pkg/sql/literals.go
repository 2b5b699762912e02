package sql

import "strings"

// MaskStringLiterals blanks the contents of single-quoted literals with spaces,
// keeping the quotes and the string length, so keyword scans ignore user values.
// ok is false if a literal is left unterminated; the returned string is then
// masked up to the point the literal opened.
//
// Backslash escapes are honoured only in E'...' literals, matching Postgres
// with standard_conforming_strings on. A doubled quote ('') stays inside the literal.
func MaskStringLiterals(sqlQuery string) (masked string, ok bool) {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	b := []byte(sqlQuery)
	state := stateNormal
	escapes := false

	for i := 0; i < len(b); i++ {
		c := b[i]
		switch state {
		case stateNormal:
			switch c {
			case '\'':
				state = stateSingleQuote
				escapes = i > 0 && (b[i-1] == 'E' || b[i-1] == 'e') && (i < 2 || !isIdentByte(b[i-2]))
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			switch {
			case escapes && c == '\\' && i+1 < len(b):
				b[i] = ' '
				i++
				b[i] = ' '
			case c == '\'' && i+1 < len(b) && b[i+1] == '\'':
				b[i] = ' '
				i++
				b[i] = ' '
			case c == '\'':
				state = stateNormal
			default:
				b[i] = ' '
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			}
		}
	}

	return string(b), state != stateSingleQuote
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// hasSemicolonOutsideStrings reports whether the SQL contains a semicolon
// outside string literals and quoted identifiers.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	masked, _ := MaskStringLiterals(sqlQuery)

	inIdent := false
	for i := 0; i < len(masked); i++ {
		switch masked[i] {
		case '"':
			inIdent = !inIdent
		case ';':
			if !inIdent {
				return true
			}
		}
	}
	return false
}

// StripTrailingSemicolons removes every trailing semicolon and the whitespace around them.
func StripTrailingSemicolons(sqlQuery string) string {
	s := strings.TrimSpace(sqlQuery)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}
