package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

const turnsTable = "conversation_turns"

var turnColumns = []string{
	"id", "conversation_id", "query", "response", "stage",
	"intent", "sql_text", "row_count", "error_kind", "created_at",
}

// PostgresStore keeps turns in the conversation_turns table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Append(ctx context.Context, turn *Turn) error {
	if err := checkTurn(turn); err != nil {
		return err
	}

	query, args, err := buildTurnInsert(turn)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save conversation turn: %w", err)
	}
	return nil
}

func buildTurnInsert(turn *Turn) (string, []any, error) {
	// Use NULL for turns that never produced an intent
	var intentJSON []byte
	if turn.Intent != nil {
		var err error
		intentJSON, err = json.Marshal(turn.Intent)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal intent: %w", err)
		}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(turnsTable)
	sb.Cols(turnColumns...)
	sb.Values(turn.ID, turn.ConversationID, turn.Query, turn.Response, turn.Stage,
		intentJSON, turn.SQL, turn.RowCount, turn.ErrorKind, turn.CreatedAt)

	query, args := sb.Build()
	return query, args, nil
}

func (s *PostgresStore) Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Turn, error) {
	if err := checkRecent(conversationID, limit); err != nil {
		return nil, err
	}

	query, args := buildRecentSelect(conversationID, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation turns: %w", err)
	}
	defer rows.Close()

	var newestFirst []*Turn
	for rows.Next() {
		var t Turn
		var intentJSON []byte
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Query, &t.Response, &t.Stage,
			&intentJSON, &t.SQL, &t.RowCount, &t.ErrorKind, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		if len(intentJSON) > 0 {
			var intent models.Intent
			if err := json.Unmarshal(intentJSON, &intent); err != nil {
				return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
			}
			t.Intent = &intent
		}
		newestFirst = append(newestFirst, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load conversation turns: %w", err)
	}

	out := make([]*Turn, len(newestFirst))
	for i, t := range newestFirst {
		out[len(newestFirst)-1-i] = t
	}
	return out, nil
}

func buildRecentSelect(conversationID uuid.UUID, limit int) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(turnColumns...)
	sb.From(turnsTable)
	sb.Where(sb.Equal("conversation_id", conversationID))
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)
	return sb.Build()
}
