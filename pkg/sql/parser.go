package sql

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// sqlLexer tokenises any Postgres-flavoured SQL. It knows nothing about clauses;
// the grammar below only checks that statements are non-empty and parentheses balance.
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*|/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "String", Pattern: `[Ee]'(?:''|\\.|[^'\\])*'|'(?:''|[^'])*'`},
	{Name: "QuotedIdent", Pattern: `"(?:""|[^"])*"`},
	{Name: "Number", Pattern: `\d+(?:\.\d*)?(?:[eE][-+]?\d+)?|\.\d+`},
	{Name: "Param", Pattern: `\$\d+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_$]*`},
	{Name: "Operator", Pattern: `->>|->|::|<=|>=|<>|!=|\|\||[-+*/%=<>~!^&|@#?]`},
	{Name: "Punct", Pattern: `[,.\[\]:]`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Semicolon", Pattern: `;`},
})

type sqlScript struct {
	Statements []*sqlStatement `parser:"( @@ | Semicolon )*"`
}

type sqlStatement struct {
	Terms []*sqlTerm `parser:"@@+"`
}

type sqlTerm struct {
	Group *sqlGroup `parser:"  @@"`
	Token string    `parser:"| @(Ident | String | QuotedIdent | Number | Param | Operator | Punct)"`
}

type sqlGroup struct {
	Open  string     `parser:"@LParen"`
	Terms []*sqlTerm `parser:"@@*"`
	Close string     `parser:"@RParen"`
}

var scriptParser = participle.MustBuild[sqlScript](
	participle.Lexer(sqlLexer),
	participle.Elide("Whitespace", "Comment"),
)

// CountStatements tokenises sqlQuery and returns the number of non-empty statements.
// It fails on unterminated literals, unknown characters and unbalanced parentheses.
func CountStatements(sqlQuery string) (int, error) {
	script, err := scriptParser.ParseString("", sqlQuery)
	if err != nil {
		return 0, fmt.Errorf("parse sql: %w", err)
	}
	return len(script.Statements), nil
}

// IsSingleStatement reports whether sqlQuery parses as exactly one statement.
func IsSingleStatement(sqlQuery string) bool {
	n, err := CountStatements(sqlQuery)
	return err == nil && n == 1
}
