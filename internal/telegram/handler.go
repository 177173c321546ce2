package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/service"
)

// MaxMessageLen es el largo máximo de un mensaje de Telegram, en runas.
const MaxMessageLen = 4096

const fallbackGreeting = "Hi! Send me a question about CURAJ and I will do my best to answer."

// Sender es la parte del cliente de Telegram que usa el handler. *bot.Bot la cumple.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Handler atiende un chat de Telegram como una sesión de ChatService.
type Handler struct {
	chat   *service.ChatService
	sender Sender
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[int64]string
}

func NewHandler(chat *service.ChatService, sender Sender, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chat:     chat,
		sender:   sender,
		logger:   logger,
		sessions: make(map[int64]string),
	}
}

// Register agrega /start al bot. El texto libre llega por el handler por defecto.
func (h *Handler) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.HandleStart)
}

// HandleStart abre una sesión nueva para el chat y envía el saludo.
func (h *Handler) HandleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	greeting, err := h.restart(ctx, chatID)
	if err != nil {
		h.logger.Error("start session failed", zap.Int64("chat_id", chatID), zap.Error(err))
		h.send(ctx, chatID, service.ApologyReply(err).Text)
		return
	}
	if len(greeting) == 0 {
		h.send(ctx, chatID, fallbackGreeting)
		return
	}
	for _, m := range greeting {
		h.send(ctx, chatID, formatReply(m))
	}
}

// HandleText reenvía el mensaje al resolver y contesta con la respuesta.
func (h *Handler) HandleText(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	msg := update.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" || strings.HasPrefix(text, "/") {
		return
	}
	chatID := msg.Chat.ID

	if _, err := h.sender.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil {
		h.logger.Debug("typing action failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	ex, err := h.sendText(ctx, chatID, text)
	switch {
	case err == nil:
		h.send(ctx, chatID, formatReply(ex.BotMessage))
	case errors.Is(err, service.ErrRateLimited):
		h.send(ctx, chatID, "Too many messages, please slow down.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Info("telegram update cancelled", zap.Int64("chat_id", chatID))
	default:
		h.logger.Error("telegram message failed", zap.Int64("chat_id", chatID), zap.Error(err))
		h.send(ctx, chatID, service.ApologyReply(err).Text)
	}
}

// sendText envía text a la sesión del chat; si venció abre otra y reintenta una vez.
func (h *Handler) sendText(ctx context.Context, chatID int64, text string) (service.Exchange, error) {
	sessionID, err := h.session(ctx, chatID)
	if err != nil {
		return service.Exchange{}, err
	}
	ex, err := h.chat.Send(ctx, sessionID, text)
	if !errors.Is(err, service.ErrSessionNotFound) {
		return ex, err
	}
	if _, err := h.restart(ctx, chatID); err != nil {
		return service.Exchange{}, err
	}
	sessionID, err = h.session(ctx, chatID)
	if err != nil {
		return service.Exchange{}, err
	}
	return h.chat.Send(ctx, sessionID, text)
}

func (h *Handler) session(ctx context.Context, chatID int64) (string, error) {
	h.mu.Lock()
	id, ok := h.sessions[chatID]
	h.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := h.restart(ctx, chatID); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[chatID], nil
}

// restart termina la sesión previa del chat, si hay, y abre una nueva.
func (h *Handler) restart(ctx context.Context, chatID int64) ([]domain.Message, error) {
	session, greeting, err := h.chat.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	prev, had := h.sessions[chatID]
	h.sessions[chatID] = session.ID
	h.mu.Unlock()

	if had {
		if err := h.chat.EndSession(ctx, prev); err != nil && !errors.Is(err, service.ErrSessionNotFound) {
			h.logger.Warn("end previous session failed", zap.String("session_id", prev), zap.Error(err))
		}
	}
	return greeting, nil
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	for _, part := range splitMessage(text, MaxMessageLen) {
		if _, err := h.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: part}); err != nil {
			h.logger.Error("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
			return
		}
	}
}

func formatReply(m domain.Message) string {
	if len(m.Sources) == 0 {
		return m.Text
	}
	var b strings.Builder
	b.WriteString(m.Text)
	b.WriteString("\n\nSources:")
	for _, src := range m.Sources {
		fmt.Fprintf(&b, "\n- %s (%s)", src.FileName, src.Score)
	}
	return b.String()
}

// splitMessage parte text en trozos de a lo sumo limit runas.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}
