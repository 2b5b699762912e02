package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntent_UnmarshalJSON_PreservesFilterOrder(t *testing.T) {
	raw := `{
		"intent_type": "sum",
		"source_table": "Expenses",
		"entities": ["fuel", "francis gays"],
		"filters": {"file_name": "francis gays", "category": "fuel", "status": "paid"},
		"needs_clarification": false
	}`

	var intent Intent
	require.NoError(t, json.Unmarshal([]byte(raw), &intent))

	assert.Equal(t, IntentSum, intent.Type)
	assert.Equal(t, SourceExpenses, intent.SourceTable)
	assert.Equal(t, []string{"fuel", "francis gays"}, intent.Entities)
	assert.Equal(t, []Filter{
		{Key: FilterFileName, Value: "francis gays"},
		{Key: FilterCategory, Value: "fuel"},
		{Key: FilterStatus, Value: "paid"},
	}, intent.Filters)
}

func TestIntent_UnmarshalJSON_DropsUnknownFilterKeys(t *testing.T) {
	raw := `{"intent_type":"query_data","source_table":null,"filters":{"color":"red","DR_NO":1045,"supplier":"Rizal"}}`

	var intent Intent
	require.NoError(t, json.Unmarshal([]byte(raw), &intent))

	assert.True(t, intent.SourceTable.IsZero())
	assert.Equal(t, []Filter{
		{Key: FilterDRNo, Value: "1045"},
		{Key: FilterSupplier, Value: "Rizal"},
	}, intent.Filters)
}

func TestIntent_UnmarshalJSON_UnknownIntentType(t *testing.T) {
	var intent Intent
	err := json.Unmarshal([]byte(`{"intent_type":"delete_everything"}`), &intent)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownIntentType)
}

func TestIntent_UnmarshalJSON_TolerantScalars(t *testing.T) {
	raw := `{"intent_type":"Clarification","source_table":"cash_flow","needs_clarification":"true","clarification_question":"  Which project? ","filters":null}`

	var intent Intent
	require.NoError(t, json.Unmarshal([]byte(raw), &intent))

	assert.Equal(t, IntentClarification, intent.Type)
	assert.Equal(t, SourceCashFlow, intent.SourceTable)
	assert.True(t, intent.WantsClarification())
	assert.Equal(t, "Which project?", intent.ClarificationQuestion)
	assert.Empty(t, intent.Filters)
}

func TestIntent_UnmarshalJSON_UnknownSourceTableIsCrossTable(t *testing.T) {
	var intent Intent
	require.NoError(t, json.Unmarshal([]byte(`{"intent_type":"count","source_table":"Invoices"}`), &intent))
	assert.True(t, intent.SourceTable.IsZero())
}

func TestIntent_UnmarshalJSON_FiltersMustBeObject(t *testing.T) {
	var intent Intent
	err := json.Unmarshal([]byte(`{"intent_type":"count","filters":["fuel"]}`), &intent)
	assert.Error(t, err)
}

func TestIntent_MarshalJSON_KeepsOrder(t *testing.T) {
	intent := Intent{
		Type:        IntentSum,
		SourceTable: SourceQuotationItem,
		Filters: []Filter{
			{Key: FilterPlateNo, Value: "ABC 123"},
			{Key: FilterDRNo, Value: "77"},
		},
	}

	b, err := json.Marshal(intent)
	require.NoError(t, err)
	assert.Equal(t,
		`{"intent_type":"sum","source_table":"QuotationItem","entities":[],"filters":{"plate_no":"ABC 123","dr_no":"77"},"needs_clarification":false}`,
		string(b))

	var back Intent
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, intent.Filters, back.Filters)
}

func TestParseIntentType(t *testing.T) {
	tests := []struct {
		in   string
		want IntentType
		ok   bool
	}{
		{"sum", IntentSum, true},
		{" LIST_FILES ", IntentListFiles, true},
		{"list-categories", IntentListCategories, true},
		{"date filter", IntentDateFilter, true},
		{"needs_clarification", IntentClarification, true},
		{"out_of_scope", IntentOutOfScope, true},
		{"", "", false},
		{"drop", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseIntentType(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSourceTable(t *testing.T) {
	for _, table := range AllSourceTables {
		got, ok := ParseSourceTable(table.String())
		assert.True(t, ok)
		assert.Equal(t, table, got)
	}

	got, ok := ParseSourceTable("quotation item")
	assert.True(t, ok)
	assert.Equal(t, SourceQuotationItem, got)

	_, ok = ParseSourceTable("null")
	assert.False(t, ok)
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("")
	assert.True(t, ok)
	assert.Equal(t, RoleViewer, r)

	r, ok = ParseRole("Accountant")
	assert.True(t, ok)
	assert.Equal(t, RoleAccountant, r)

	_, ok = ParseRole("root")
	assert.False(t, ok)
}
