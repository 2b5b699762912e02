package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

func TestParseConversationID(t *testing.T) {
	t.Run("empty starts a new conversation", func(t *testing.T) {
		id, err := ParseConversationID("  ")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)
	})

	t.Run("valid uuid", func(t *testing.T) {
		id, err := ParseConversationID("6f1c1f04-9c55-4e0b-8d0c-3c5b3b2f1a10")
		require.NoError(t, err)
		assert.Equal(t, "6f1c1f04-9c55-4e0b-8d0c-3c5b3b2f1a10", id.String())
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseConversationID("conv-42")
		assert.ErrorIs(t, err, apperrors.ErrInvalidConversationID)
	})

	t.Run("nil uuid", func(t *testing.T) {
		_, err := ParseConversationID(uuid.Nil.String())
		assert.ErrorIs(t, err, apperrors.ErrInvalidConversationID)
	})
}

func TestMemoryStore_RecentOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	conv := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		err := store.Append(ctx, &Turn{
			ConversationID: conv,
			Query:          fmt.Sprintf("q%d", i),
			Stage:          "done",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	turns, err := store.Recent(ctx, conv, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q2", turns[0].Query)
	assert.Equal(t, "q3", turns[1].Query)
	assert.NotEqual(t, uuid.Nil, turns[0].ID)

	other, err := store.Recent(ctx, uuid.New(), 5)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryStore_DropsOldestOverCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	conv := uuid.New()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, &Turn{
			ConversationID: conv,
			Query:          fmt.Sprintf("q%d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	turns, err := store.Recent(ctx, conv, 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "q2", turns[0].Query)
	assert.Equal(t, "q4", turns[2].Query)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	conv := uuid.New()

	turn := &Turn{ConversationID: conv, Query: "original"}
	require.NoError(t, store.Append(ctx, turn))
	turn.Query = "mutated after append"

	turns, err := store.Recent(ctx, conv, 1)
	require.NoError(t, err)
	turns[0].Query = "mutated after read"

	again, err := store.Recent(ctx, conv, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Query)
}

func TestMemoryStore_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	assert.ErrorIs(t, store.Append(ctx, &Turn{Query: "no conversation"}), apperrors.ErrConversationIDRequired)
	assert.ErrorIs(t, store.Append(ctx, nil), apperrors.ErrConversationIDRequired)

	_, err := store.Recent(ctx, uuid.Nil, 5)
	assert.ErrorIs(t, err, apperrors.ErrConversationIDRequired)

	_, err = store.Recent(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidHistoryLimit)
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)
	conv := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Append(ctx, &Turn{ConversationID: conv, Query: fmt.Sprintf("q%d", i)})
		}(i)
	}
	wg.Wait()

	turns, err := store.Recent(ctx, conv, 1000)
	require.NoError(t, err)
	assert.Len(t, turns, 50)
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "", FormatHistory(nil))

	got := FormatHistory([]*Turn{
		{Query: "total fuel expenses", Response: "Total fuel expenses are ₱2,000.50."},
		{Query: "and for tower a?"},
	})
	want := "User: total fuel expenses\nAssistant: Total fuel expenses are ₱2,000.50.\nUser: and for tower a?"
	assert.Equal(t, want, got)
}

func TestBuildTurnInsert(t *testing.T) {
	turn := &Turn{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		Query:          "how much fuel",
		Response:       "₱2,000.50",
		Stage:          "done",
		Intent:         &models.Intent{Type: models.IntentSum, SourceTable: models.SourceExpenses},
		SQL:            "SELECT 1",
		RowCount:       1,
		CreatedAt:      time.Now(),
	}

	query, args, err := buildTurnInsert(turn)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO conversation_turns (id, conversation_id, query, response, stage, intent, sql_text, row_count, error_kind, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		query)
	require.Len(t, args, 10)
	assert.JSONEq(t,
		`{"intent_type":"sum","source_table":"Expenses","entities":[],"filters":{},"needs_clarification":false}`,
		string(args[5].([]byte)))

	turn.Intent = nil
	_, args, err = buildTurnInsert(turn)
	require.NoError(t, err)
	assert.Nil(t, args[5])
}

func TestBuildRecentSelect(t *testing.T) {
	conv := uuid.New()
	query, args := buildRecentSelect(conv, 5)
	assert.Equal(t,
		"SELECT id, conversation_id, query, response, stage, intent, sql_text, row_count, error_kind, created_at FROM conversation_turns WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2",
		query)
	assert.Equal(t, []any{conv, 5}, args)
}
