package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
)

type stubDiscoverer struct {
	schema schema.Schema
	err    error
}

func (d stubDiscoverer) DiscoverKeys(ctx context.Context) (schema.Schema, error) {
	return d.schema, d.err
}

func describe(t *testing.T, d schema.Discoverer) schemaDescription {
	t.Helper()

	mcpServer := newTestMCPServer()
	RegisterDescribeSchemaTool(mcpServer, schema.NewRegistry(d, zap.NewNop()))

	result := callTool(t, mcpServer, "describe_schema", nil)
	require.False(t, result.IsError)

	var desc schemaDescription
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &desc))
	return desc
}

func TestRegisterDescribeSchemaTool(t *testing.T) {
	mcpServer := newTestMCPServer()
	RegisterDescribeSchemaTool(mcpServer, schema.NewRegistry(nil, zap.NewNop()))

	assert.Contains(t, listTools(t, mcpServer), "describe_schema")
}

func TestDescribeSchema_Discovered(t *testing.T) {
	desc := describe(t, stubDiscoverer{schema: schema.Schema{
		models.SourceExpenses: {"Remarks", "Category", "Expenses"},
		models.SourceCashFlow: {"Amount", "Type"},
	}})

	assert.False(t, desc.Fallback)
	require.Len(t, desc.Tables, 2)
	assert.Equal(t, "CashFlow", desc.Tables[0].SourceTable)
	assert.Equal(t, "Expenses", desc.Tables[1].SourceTable)
	assert.Equal(t, []string{"Category", "Expenses", "Remarks"}, desc.Tables[1].MetadataKeys)
	assert.Equal(t, "ai_documents", desc.Tables[1].PhysicalTable)
	assert.Contains(t, desc.NumericKeys, "Expenses")
	assert.Contains(t, desc.NumericKeys, "Amount")
}

func TestDescribeSchema_FallbackWhenDiscoveryFails(t *testing.T) {
	desc := describe(t, stubDiscoverer{err: errors.New("connection refused")})

	assert.True(t, desc.Fallback)
	assert.Len(t, desc.Tables, len(schema.FallbackSchema()))
}
