// Package conversation keeps the recent turns of each conversation so that
// follow-up questions can be read in context.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// Turn is one finished question and the answer given to it.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Query          string
	Response       string
	Stage          string
	Intent         *models.Intent
	SQL            string
	RowCount       int
	ErrorKind      string
	CreatedAt      time.Time
}

// Store persists turns. Recent returns the newest limit turns, oldest first.
type Store interface {
	Append(ctx context.Context, turn *Turn) error
	Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Turn, error)
}

// ParseConversationID reads a caller-supplied conversation id. An empty string
// starts a new conversation.
func ParseConversationID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidConversationID, s)
	}
	return id, nil
}

func checkTurn(turn *Turn) error {
	if turn == nil || turn.ConversationID == uuid.Nil {
		return apperrors.ErrConversationIDRequired
	}
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return nil
}

func checkRecent(conversationID uuid.UUID, limit int) error {
	if conversationID == uuid.Nil {
		return apperrors.ErrConversationIDRequired
	}
	if limit <= 0 {
		return apperrors.ErrInvalidHistoryLimit
	}
	return nil
}

// MemoryStore keeps turns in process. Each conversation holds at most
// maxPerConversation turns; older ones are dropped.
type MemoryStore struct {
	mu                 sync.RWMutex
	turns              map[uuid.UUID][]*Turn
	maxPerConversation int
}

// NewMemoryStore creates an in-memory store. A non-positive max keeps 50 turns.
func NewMemoryStore(maxPerConversation int) *MemoryStore {
	if maxPerConversation <= 0 {
		maxPerConversation = 50
	}
	return &MemoryStore{
		turns:              make(map[uuid.UUID][]*Turn),
		maxPerConversation: maxPerConversation,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(_ context.Context, turn *Turn) error {
	if err := checkTurn(turn); err != nil {
		return err
	}
	stored := *turn

	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.turns[turn.ConversationID], &stored)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if over := len(list) - s.maxPerConversation; over > 0 {
		list = append([]*Turn(nil), list[over:]...)
	}
	s.turns[turn.ConversationID] = list
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, conversationID uuid.UUID, limit int) ([]*Turn, error) {
	if err := checkRecent(conversationID, limit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.turns[conversationID]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]*Turn, len(list))
	for i, t := range list {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

// FormatHistory renders turns as the plain-text context given to the extraction model.
func FormatHistory(turns []*Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\n", t.Query)
		if t.Response != "" {
			fmt.Fprintf(&b, "Assistant: %s\n", t.Response)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
