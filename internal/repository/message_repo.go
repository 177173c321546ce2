package repository

import (
	"context"
	"slices"
	"sync"

	"curaj-bot/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	ListBySessionID(ctx context.Context, sessionID string) ([]domain.Message, error)
	DeleteBySessionID(ctx context.Context, sessionID string) error
}

// MemoryMessageRepository conserva el orden de inserción de cada sesión.
type MemoryMessageRepository struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string][]domain.Message)}
}

func (r *MemoryMessageRepository) Create(_ context.Context, message domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[message.SessionID] = append(r.messages[message.SessionID], message)
	return nil
}

func (r *MemoryMessageRepository) ListBySessionID(_ context.Context, sessionID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := slices.Clone(r.messages[sessionID])
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func (r *MemoryMessageRepository) DeleteBySessionID(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, sessionID)
	return nil
}
