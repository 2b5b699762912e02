//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/testhelpers"
)

func seedDocuments(t *testing.T, tdb *testhelpers.TestDB) {
	t.Helper()
	tdb.Truncate(t, models.PhysicalTable)

	store := database.NewDocumentStore(tdb.DB.Pool)
	err := store.Insert(context.Background(),
		&models.LogicalRecord{
			SourceTable:  models.SourceExpenses,
			FileName:     "fuel.xlsx",
			ProjectName:  "Tower A",
			DocumentType: models.DocumentTypeRow,
			Metadata:     map[string]any{"Category": "Fuel", "Expenses": "1200.50"},
		},
		&models.LogicalRecord{
			SourceTable:  models.SourceExpenses,
			FileName:     "fuel.xlsx",
			ProjectName:  "Tower A",
			DocumentType: models.DocumentTypeRow,
			Metadata:     map[string]any{"Category": "Fuel", "Expenses": "800", "Remarks": "diesel"},
		},
		&models.LogicalRecord{
			SourceTable:  models.SourceCashFlow,
			FileName:     "cash.xlsx",
			DocumentType: models.DocumentTypeRow,
			Metadata:     map[string]any{"Amount": "5000", "Type": "Cash In"},
		},
		&models.LogicalRecord{
			SourceTable:  models.SourceExpenses,
			FileName:     "fuel.xlsx",
			DocumentType: models.DocumentTypeFile,
			Metadata:     map[string]any{"Sheet": "March"},
		},
	)
	require.NoError(t, err)
}

func TestQueryExecutor_Integration(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	seedDocuments(t, tdb)
	ctx := context.Background()

	exec := database.NewQueryExecutor(tdb.DB.Pool, 5*time.Second, 2, zap.NewNop())

	t.Run("numeric sum comes back as float64", func(t *testing.T) {
		result, err := exec.Execute(ctx,
			"SELECT SUM((metadata->>'Expenses')::numeric) AS total FROM ai_documents WHERE source_table = 'Expenses' AND document_type = 'row'")
		require.NoError(t, err)
		require.Len(t, result.Rows, 1)
		assert.Equal(t, []string{"total"}, result.Columns)
		assert.InDelta(t, 2000.5, result.Rows[0]["total"], 0.001)
	})

	t.Run("jsonb decodes to a map", func(t *testing.T) {
		result, err := exec.Execute(ctx,
			"SELECT metadata FROM ai_documents WHERE source_table = 'CashFlow'")
		require.NoError(t, err)
		require.Len(t, result.Rows, 1)
		meta, ok := result.Rows[0]["metadata"].(map[string]any)
		require.True(t, ok, "expected map, got %T", result.Rows[0]["metadata"])
		assert.Equal(t, "Cash In", meta["Type"])
	})

	t.Run("row cap truncates", func(t *testing.T) {
		result, err := exec.Execute(ctx, "SELECT id FROM ai_documents")
		require.NoError(t, err)
		assert.Len(t, result.Rows, 2)
		assert.True(t, result.Truncated)
		_, isString := result.Rows[0]["id"].(string)
		assert.True(t, isString, "uuid should be rendered as a string")
	})

	t.Run("writes are refused", func(t *testing.T) {
		_, err := exec.Execute(ctx, "DELETE FROM ai_documents")
		require.Error(t, err)

		var count int
		require.NoError(t, tdb.DB.QueryRow(ctx, "SELECT COUNT(*) FROM ai_documents").Scan(&count))
		assert.Equal(t, 4, count)
	})
}

func TestSchemaDiscoverer_Integration(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	seedDocuments(t, tdb)

	discovered, err := database.NewSchemaDiscoverer(tdb.DB.Pool).DiscoverKeys(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Category", "Expenses", "Remarks"}, discovered[models.SourceExpenses])
	assert.Equal(t, []string{"Amount", "Type"}, discovered[models.SourceCashFlow])
	// File-level metadata is not part of the row schema.
	assert.NotContains(t, discovered[models.SourceExpenses], "Sheet")
}
