package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/repository"
)

// MessageService valida y completa los mensajes antes de guardarlos.
type MessageService struct {
	repo repository.MessageRepository
	now  func() time.Time
}

var (
	ErrMessageServiceNotConfigured = errors.New("message service not configured")
	ErrMessageInvalidInput         = errors.New("message invalid input")
)

func NewMessageService(repo repository.MessageRepository) *MessageService {
	return &MessageService{repo: repo, now: time.Now}
}

// Save guarda msg y devuelve la versión completa (id, fecha y hora visible).
func (s *MessageService) Save(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if s == nil || s.repo == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	msg.SessionID = strings.TrimSpace(msg.SessionID)
	if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
		return domain.Message{}, ErrMessageInvalidInput
	}
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Message{}, err
		}
		msg.ID = id.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = domain.FormatTimestamp(msg.CreatedAt)
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (s *MessageService) ListBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return []domain.Message{}, nil
	}
	return s.repo.ListBySessionID(ctx, sessionID)
}

func (s *MessageService) DeleteBySession(ctx context.Context, sessionID string) error {
	if s == nil || s.repo == nil {
		return ErrMessageServiceNotConfigured
	}
	return s.repo.DeleteBySessionID(ctx, strings.TrimSpace(sessionID))
}
