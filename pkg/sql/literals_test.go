package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskStringLiterals(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{"no literals", "SELECT 1", "SELECT 1", true},
		{"simple literal", "WHERE a = 'fuel'", "WHERE a = '    '", true},
		{"doubled quote", "WHERE a = 'O''Brien'", "WHERE a = '        '", true},
		{"empty literal", "WHERE a = '' AND b", "WHERE a = '' AND b", true},
		{"keywords hidden", "x ILIKE '%; DROP--%'", "x ILIKE '          '", true},
		{"backslash is literal in standard strings", `a = 'x\' OR b`, `a = '  ' OR b`, true},
		{"escape string", `a = E'x\'y' OR b`, `a = E'    ' OR b`, true},
		{"double quoted identifier untouched", `SELECT "it's" FROM t`, `SELECT "it's" FROM t`, true},
		{"unterminated", "a = 'abc", "a = '   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MaskStringLiterals(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, len(tt.input), len(got))
		})
	}
}

func TestHasSemicolonOutsideStrings(t *testing.T) {
	assert.True(t, hasSemicolonOutsideStrings("SELECT 1; SELECT 2"))
	assert.False(t, hasSemicolonOutsideStrings("SELECT ';'"))
	assert.False(t, hasSemicolonOutsideStrings(`SELECT * FROM "table;name"`))
	assert.False(t, hasSemicolonOutsideStrings("SELECT 'O''Brien;'"))
}

func TestStripTrailingSemicolons(t *testing.T) {
	assert.Equal(t, "SELECT 1", StripTrailingSemicolons("SELECT 1"))
	assert.Equal(t, "SELECT 1", StripTrailingSemicolons("  SELECT 1 ;\n"))
	assert.Equal(t, "SELECT 1", StripTrailingSemicolons("SELECT 1;; ; "))
	assert.Equal(t, "SELECT ';'", StripTrailingSemicolons("SELECT ';';"))
	assert.Equal(t, "", StripTrailingSemicolons(" ; "))
}
