//go:build integration

package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ledger/pkg/conversation"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/testhelpers"
)

func TestPostgresStore_Integration(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.Truncate(t, "conversation_turns")
	ctx := context.Background()

	store := conversation.NewPostgresStore(tdb.DB.Pool)
	conv := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	intent := &models.Intent{
		Type:        models.IntentSum,
		SourceTable: models.SourceExpenses,
		Filters:     []models.Filter{{Key: models.FilterCategory, Value: "fuel"}},
	}

	require.NoError(t, store.Append(ctx, &conversation.Turn{
		ConversationID: conv, Query: "first", Stage: "out_of_scope", CreatedAt: base,
	}))
	require.NoError(t, store.Append(ctx, &conversation.Turn{
		ConversationID: conv, Query: "second", Response: "₱2,000.50", Stage: "done",
		Intent: intent, SQL: "SELECT 1", RowCount: 1, CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.Append(ctx, &conversation.Turn{
		ConversationID: conv, Query: "third", Stage: "failed", ErrorKind: "execution",
		CreatedAt: base.Add(2 * time.Second),
	}))

	turns, err := store.Recent(ctx, conv, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, "second", turns[0].Query)
	assert.Equal(t, "third", turns[1].Query)
	require.NotNil(t, turns[0].Intent)
	assert.Equal(t, models.IntentSum, turns[0].Intent.Type)
	assert.Equal(t, []models.Filter{{Key: models.FilterCategory, Value: "fuel"}}, turns[0].Intent.Filters)
	assert.Nil(t, turns[1].Intent)
	assert.Equal(t, "execution", turns[1].ErrorKind)
}
