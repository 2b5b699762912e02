package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/schema"
)

// discoverKeysSQL lists the distinct top-level metadata keys per source_table.
const discoverKeysSQL = `
SELECT d.source_table, array_agg(DISTINCT k.key ORDER BY k.key)
FROM ai_documents d
CROSS JOIN LATERAL jsonb_object_keys(d.metadata) AS k(key)
WHERE d.document_type = 'row' AND jsonb_typeof(d.metadata) = 'object'
GROUP BY d.source_table`

// SchemaDiscoverer reads the live metadata keys from ai_documents for the schema registry.
type SchemaDiscoverer struct {
	pool *pgxpool.Pool
}

// NewSchemaDiscoverer creates a discoverer on pool.
func NewSchemaDiscoverer(pool *pgxpool.Pool) *SchemaDiscoverer {
	return &SchemaDiscoverer{pool: pool}
}

var _ schema.Discoverer = (*SchemaDiscoverer)(nil)

// DiscoverKeys implements schema.Discoverer.
func (d *SchemaDiscoverer) DiscoverKeys(ctx context.Context) (schema.Schema, error) {
	rows, err := d.pool.Query(ctx, discoverKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("discover metadata keys: %w", err)
	}
	defer rows.Close()

	out := make(schema.Schema)
	for rows.Next() {
		var table string
		var keys []string
		if err := rows.Scan(&table, &keys); err != nil {
			return nil, fmt.Errorf("scan metadata keys: %w", err)
		}
		out[models.SourceTable(table)] = keys
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discover metadata keys: %w", err)
	}
	return out, nil
}
