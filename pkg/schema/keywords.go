package schema

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

var defaultKeywords = map[models.SourceTable][]string{
	models.SourceExpenses: {
		"expense", "spent", "spending", "fuel", "diesel", "gasoline", "receipt", "purchase", "petty cash",
	},
	models.SourceCashFlow: {
		"cash flow", "cashflow", "cash in", "cash out", "inflow", "outflow", "income", "deposit", "withdrawal",
	},
	models.SourceProject: {
		"project status", "project list", "client", "ongoing project", "project location", "site location",
	},
	models.SourceQuotation: {
		"quotation", "quote", "quote number", "bid", "estimate",
	},
	models.SourceQuotationItem: {
		"quotation item", "quote item", "line item", "plate", "plate number", "plate no", "dr no", "dr number",
		"delivery receipt", "truck", "quarry", "cubic meter",
	},
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

type phrase struct {
	text  string // normalised, space-separated
	table models.SourceTable
}

// Keywords resolves a table from free text. Phrases are lower-cased and singularised,
// so "Trucks" matches the keyword "truck".
type Keywords struct {
	phrases []phrase // longest first
}

// DefaultKeywords returns the built-in keyword map.
func DefaultKeywords() *Keywords {
	return newKeywords(defaultKeywords)
}

// LoadKeywords reads extra keywords from a YAML file of the form
//
//	Expenses:
//	  - petty cash
//	QuotationItem:
//	  - hauling
//
// and merges them into the defaults. Table names not in the built-in set are kept as given.
func LoadKeywords(path string) (*Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords file: %w", err)
	}

	var extra map[string][]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse keywords file %s: %w", path, err)
	}

	merged := make(map[models.SourceTable][]string, len(defaultKeywords)+len(extra))
	for t, words := range defaultKeywords {
		merged[t] = append([]string(nil), words...)
	}
	for name, words := range extra {
		table, ok := models.ParseSourceTable(name)
		if !ok {
			table = models.SourceTable(strings.TrimSpace(name))
		}
		if table == "" {
			continue
		}
		merged[table] = append(merged[table], words...)
	}
	return newKeywords(merged), nil
}

func newKeywords(m map[models.SourceTable][]string) *Keywords {
	seen := make(map[phrase]struct{})
	var phrases []phrase
	for table, words := range m {
		for _, w := range words {
			p := phrase{text: normalizeText(w), table: table}
			if p.text == "" {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			phrases = append(phrases, p)
		}
	}

	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i].text) != len(phrases[j].text) {
			return len(phrases[i].text) > len(phrases[j].text)
		}
		if phrases[i].text != phrases[j].text {
			return phrases[i].text < phrases[j].text
		}
		return phrases[i].table < phrases[j].table
	})
	return &Keywords{phrases: phrases}
}

// Detect returns the table whose keywords appear in text when exactly one table matches.
// Longer phrases are matched first and consume their words, so "quotation item"
// does not also count as "quotation".
func (k *Keywords) Detect(text string) (models.SourceTable, bool) {
	haystack := " " + normalizeText(text) + " "
	if strings.TrimSpace(haystack) == "" {
		return "", false
	}

	matched := make(map[models.SourceTable]struct{})
	for _, p := range k.phrases {
		needle := " " + p.text + " "
		if !strings.Contains(haystack, needle) {
			continue
		}
		matched[p.table] = struct{}{}
		haystack = strings.ReplaceAll(haystack, needle, " | ")
	}

	if len(matched) != 1 {
		return "", false
	}
	for t := range matched {
		return t, true
	}
	return "", false
}

// Tables returns the tables that have at least one keyword.
func (k *Keywords) Tables() []models.SourceTable {
	seen := make(map[models.SourceTable]struct{})
	var out []models.SourceTable
	for _, p := range k.phrases {
		if _, ok := seen[p.table]; ok {
			continue
		}
		seen[p.table] = struct{}{}
		out = append(out, p.table)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalizeText(s string) string {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	for i, w := range words {
		words[i] = inflection.Singular(w)
	}
	return strings.Join(words, " ")
}
