package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"curaj-bot/internal/domain"
)

// RedisSessionRepository guarda cada sesión como JSON con TTL hasta su vencimiento.
type RedisSessionRepository struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisSessionRepository(client redis.Cmdable) *RedisSessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "chat:session:",
		now:    time.Now,
	}
}

func (r *RedisSessionRepository) Create(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return fmt.Errorf("session %s already expired", session.ID)
		}
	}
	return r.client.Set(ctx, r.prefix+session.ID, data, ttl).Err()
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	data, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.prefix+id).Err()
}

// RedisMessageRepository guarda la conversación en una lista por sesión. Cada escritura
// renueva el TTL para que la lista no sobreviva a la sesión.
type RedisMessageRepository struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisMessageRepository(client redis.Cmdable, ttl time.Duration) *RedisMessageRepository {
	return &RedisMessageRepository{
		client: client,
		prefix: "chat:messages:",
		ttl:    ttl,
	}
}

func (r *RedisMessageRepository) Create(ctx context.Context, message domain.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := r.prefix + message.SessionID
	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		return err
	}
	if r.ttl > 0 {
		return r.client.Expire(ctx, key, r.ttl).Err()
	}
	return nil
}

func (r *RedisMessageRepository) ListBySessionID(ctx context.Context, sessionID string) ([]domain.Message, error) {
	items, err := r.client.LRange(ctx, r.prefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(items))
	for _, item := range items {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *RedisMessageRepository) DeleteBySessionID(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.prefix+sessionID).Err()
}
