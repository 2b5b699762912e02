package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
)

// SchemaDescriber is the part of the schema registry describe_schema reads.
type SchemaDescriber interface {
	GetSchema(ctx context.Context) schema.Schema
	GetNumericKeys() []string
	IsFallback(ctx context.Context) bool
}

type tableDescription struct {
	SourceTable   string   `json:"source_table"`
	MetadataKeys  []string `json:"metadata_keys"`
	PhysicalTable string   `json:"physical_table"`
}

type schemaDescription struct {
	Tables      []tableDescription `json:"tables"`
	NumericKeys []string           `json:"numeric_keys"`
	Fallback    bool               `json:"fallback"`
}

// RegisterDescribeSchemaTool adds describe_schema, which lists the record
// types and the metadata keys each one carries.
func RegisterDescribeSchemaTool(s *server.MCPServer, registry SchemaDescriber) {
	tool := mcp.NewTool(
		"describe_schema",
		mcp.WithDescription("Lists the record types (source tables) held in ai_documents and the "+
			"metadata fields available on each. Numeric fields can be summed and compared."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snapshot := registry.GetSchema(ctx)

		desc := schemaDescription{
			Tables:      make([]tableDescription, 0, len(snapshot)),
			NumericKeys: registry.GetNumericKeys(),
			Fallback:    registry.IsFallback(ctx),
		}
		for _, table := range snapshot.Tables() {
			desc.Tables = append(desc.Tables, tableDescription{
				SourceTable:   table.String(),
				MetadataKeys:  snapshot[table],
				PhysicalTable: models.PhysicalTable,
			})
		}

		jsonResult, err := json.Marshal(desc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
