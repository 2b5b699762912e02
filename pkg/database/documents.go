package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// documentColumns are written by DocumentStore in this order.
var documentColumns = []string{
	"id", "source_table", "file_name", "project_name", "document_type",
	"searchable_text", "metadata", "created_at",
}

// DocumentStore writes logical records into ai_documents. The question
// pipeline never writes; this is the loading path used by the seed command
// and integration tests.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore creates a store on pool.
func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

// Insert writes records in one statement. Missing IDs and timestamps are filled in.
func (s *DocumentStore) Insert(ctx context.Context, records ...*models.LogicalRecord) error {
	if len(records) == 0 {
		return nil
	}

	query, args, err := buildDocumentInsert(records, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert documents: %w", err)
	}
	return nil
}

func buildDocumentInsert(records []*models.LogicalRecord, now time.Time) (string, []any, error) {
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(models.PhysicalTable)
	sb.Cols(documentColumns...)

	for _, r := range records {
		if r.SourceTable.IsZero() {
			return "", nil, fmt.Errorf("record %q has no source_table", r.FileName)
		}
		if r.DocumentType != models.DocumentTypeFile && r.DocumentType != models.DocumentTypeRow {
			return "", nil, fmt.Errorf("record %q has invalid document_type %q", r.FileName, r.DocumentType)
		}
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		metadata := r.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		sb.Values(r.ID, string(r.SourceTable), r.FileName, r.ProjectName, string(r.DocumentType),
			r.SearchableText, metadata, r.CreatedAt)
	}

	query, args := sb.Build()
	return query, args, nil
}

// DecodeRecords reads a stream of JSON LogicalRecord objects (one after another,
// as written by json.Encoder) until EOF.
func DecodeRecords(r io.Reader) ([]*models.LogicalRecord, error) {
	dec := json.NewDecoder(r)
	var out []*models.LogicalRecord
	for {
		var rec models.LogicalRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, &rec)
	}
}
