package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ekaya-inc/ekaya-ledger/pkg/jsonutil"
)

// IntentType is the closed set of query intents the extractor may return.
type IntentType string

const (
	IntentListFiles      IntentType = "list_files"
	IntentQueryData      IntentType = "query_data"
	IntentSum            IntentType = "sum"
	IntentCount          IntentType = "count"
	IntentAverage        IntentType = "average"
	IntentCompare        IntentType = "compare"
	IntentListCategories IntentType = "list_categories"
	IntentDateFilter     IntentType = "date_filter"
	IntentOutOfScope     IntentType = "out_of_scope"
	IntentClarification  IntentType = "clarification_needed"
)

var intentAliases = map[string]IntentType{
	"clarification":       IntentClarification,
	"needs_clarification": IntentClarification,
	"clarify":             IntentClarification,
	"avg":                 IntentAverage,
	"list":                IntentListFiles,
}

// ParseIntentType normalises s and returns the matching intent type.
func ParseIntentType(s string) (IntentType, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(strings.ReplaceAll(norm, "-", "_"), " ", "_")

	switch t := IntentType(norm); t {
	case IntentListFiles, IntentQueryData, IntentSum, IntentCount, IntentAverage,
		IntentCompare, IntentListCategories, IntentDateFilter, IntentOutOfScope, IntentClarification:
		return t, true
	}
	if t, ok := intentAliases[norm]; ok {
		return t, true
	}
	return "", false
}

// FilterKey is the closed vocabulary of filter names the injector understands.
type FilterKey string

const (
	FilterProjectName FilterKey = "project_name"
	FilterCategory    FilterKey = "category"
	FilterFileName    FilterKey = "file_name"
	FilterDate        FilterKey = "date"
	FilterStatus      FilterKey = "status"
	FilterClientName  FilterKey = "client_name"
	FilterPlateNo     FilterKey = "plate_no"
	FilterDRNo        FilterKey = "dr_no"
	FilterSupplier    FilterKey = "supplier"
)

// AllFilterKeys lists the vocabulary in a stable order.
var AllFilterKeys = []FilterKey{
	FilterProjectName,
	FilterCategory,
	FilterFileName,
	FilterDate,
	FilterStatus,
	FilterClientName,
	FilterPlateNo,
	FilterDRNo,
	FilterSupplier,
}

// ParseFilterKey reports whether s names a known filter key.
func ParseFilterKey(s string) (FilterKey, bool) {
	k := FilterKey(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllFilterKeys {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Filter is one key/value pair extracted from the question.
type Filter struct {
	Key   FilterKey `json:"key"`
	Value string    `json:"value"`
}

// ErrUnknownIntentType is returned when the extractor names an intent outside the vocabulary.
var ErrUnknownIntentType = errors.New("unknown intent_type")

// Intent is the structured form of a question passed between pipeline stages.
// Filters keep the order the extractor emitted them in; unknown keys are dropped
// while decoding.
type Intent struct {
	Type                  IntentType
	SourceTable           SourceTable // zero means search across all tables
	Entities              []string
	Filters               []Filter
	NeedsClarification    bool
	ClarificationQuestion string
	OutOfScopeMessage     string
}

// IsOutOfScope reports whether the question falls outside the supported data.
func (i *Intent) IsOutOfScope() bool {
	return i.Type == IntentOutOfScope
}

// WantsClarification reports whether the extractor asked for clarification.
func (i *Intent) WantsClarification() bool {
	return i.NeedsClarification || i.Type == IntentClarification
}

// FilterValue returns the first value recorded for key.
func (i *Intent) FilterValue(key FilterKey) (string, bool) {
	for _, f := range i.Filters {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

type intentWire struct {
	IntentType            json.RawMessage `json:"intent_type"`
	SourceTable           json.RawMessage `json:"source_table"`
	Entities              json.RawMessage `json:"entities"`
	Filters               json.RawMessage `json:"filters"`
	NeedsClarification    json.RawMessage `json:"needs_clarification"`
	ClarificationQuestion json.RawMessage `json:"clarification_question"`
	OutOfScopeMessage     json.RawMessage `json:"out_of_scope_message"`
}

// UnmarshalJSON decodes the extractor's JSON object. Scalars are read tolerantly
// (numbers or booleans where strings were expected); an unrecognised source_table
// becomes a cross-table search.
func (i *Intent) UnmarshalJSON(data []byte) error {
	var w intentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	rawType := jsonutil.FlexibleStringValue(w.IntentType)
	t, ok := ParseIntentType(rawType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownIntentType, rawType)
	}

	filters, err := decodeOrderedFilters(w.Filters)
	if err != nil {
		return fmt.Errorf("filters: %w", err)
	}

	table, _ := ParseSourceTable(jsonutil.FlexibleStringValue(w.SourceTable))

	*i = Intent{
		Type:                  t,
		SourceTable:           table,
		Entities:              jsonutil.FlexibleStringList(w.Entities),
		Filters:               filters,
		NeedsClarification:    jsonutil.FlexibleBoolValue(w.NeedsClarification),
		ClarificationQuestion: strings.TrimSpace(jsonutil.FlexibleStringValue(w.ClarificationQuestion)),
		OutOfScopeMessage:     strings.TrimSpace(jsonutil.FlexibleStringValue(w.OutOfScopeMessage)),
	}
	return nil
}

// decodeOrderedFilters walks the filters object token by token so that the
// emitted order survives; a map would lose it.
func decodeOrderedFilters(raw json.RawMessage) ([]Filter, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected an object")
	}

	var filters []Filter
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		key, ok := ParseFilterKey(name)
		if !ok {
			continue
		}
		v := jsonutil.FlexibleStringValue(value)
		if v == "" {
			continue
		}
		filters = append(filters, Filter{Key: key, Value: v})
	}

	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return filters, nil
}

// MarshalJSON renders the intent in the extractor's wire shape, filters in order.
func (i Intent) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"intent_type":`)
	writeJSON(&buf, string(i.Type))

	buf.WriteString(`,"source_table":`)
	if i.SourceTable.IsZero() {
		buf.WriteString("null")
	} else {
		writeJSON(&buf, string(i.SourceTable))
	}

	buf.WriteString(`,"entities":`)
	if i.Entities == nil {
		buf.WriteString("[]")
	} else {
		writeJSON(&buf, i.Entities)
	}

	buf.WriteString(`,"filters":{`)
	for n, f := range i.Filters {
		if n > 0 {
			buf.WriteByte(',')
		}
		writeJSON(&buf, string(f.Key))
		buf.WriteByte(':')
		writeJSON(&buf, f.Value)
	}
	buf.WriteString(`},"needs_clarification":`)
	writeJSON(&buf, i.NeedsClarification)

	if i.ClarificationQuestion != "" {
		buf.WriteString(`,"clarification_question":`)
		writeJSON(&buf, i.ClarificationQuestion)
	}
	if i.OutOfScopeMessage != "" {
		buf.WriteString(`,"out_of_scope_message":`)
		writeJSON(&buf, i.OutOfScopeMessage)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) {
	b, _ := json.Marshal(v)
	buf.Write(b)
}
