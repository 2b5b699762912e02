package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// InjectionCheckResult describes a filter value libinjection fingerprinted as SQL injection.
type InjectionCheckResult struct {
	FilterKey   models.FilterKey
	Value       string
	Fingerprint string
}

// CheckValueForInjection runs libinjection over a single free-text value.
// Returns nil when the value looks clean.
func CheckValueForInjection(key models.FilterKey, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		FilterKey:   key,
		Value:       value,
		Fingerprint: string(fingerprint),
	}
}

// ScreenFilterValues checks every filter value before it is spliced into SQL.
// Results come back in filter order. Screening does not reject anything: the
// injector's quote stripping is what keeps the values inert, and hits are only
// logged and counted.
func ScreenFilterValues(filters []models.Filter) []InjectionCheckResult {
	var results []InjectionCheckResult
	for _, f := range filters {
		if r := CheckValueForInjection(f.Key, f.Value); r != nil {
			results = append(results, *r)
		}
	}
	return results
}
