package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/qa"
	"curaj-bot/internal/repository"
	"curaj-bot/internal/service"
)

func newTestChat(t *testing.T, resolver service.Responder) *service.ChatService {
	t.Helper()
	chat := service.NewChatService(
		resolver,
		repository.NewMemorySessionRepository(),
		service.NewMessageService(repository.NewMemoryMessageRepository()),
		zap.NewNop(),
		service.ChatOptions{Greeting: "Hello! How can I help you with your educational queries today?", Serialize: true},
	)
	t.Cleanup(chat.Close)
	return chat
}

func instantResolver(t *testing.T) service.Responder {
	t.Helper()
	table, err := qa.Default()
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	r, err := service.NewResolver(service.ResolverConfig{Mode: domain.ModeSimulated, Table: table})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func setupRouter(t *testing.T, resolver service.Responder, tokens *service.JWTService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	chat := newTestChat(t, resolver)
	return NewRouter(zap.NewNop(), NewChatHandler(zap.NewNop(), chat, tokens), NewQueryHandler(zap.NewNop(), resolver), tokens)
}

func performRequest(r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type createSessionResponse struct {
	Session  domain.Session   `json:"session"`
	Messages []domain.Message `json:"messages"`
	Token    string           `json:"token"`
}

func createSession(t *testing.T, r http.Handler) createSessionResponse {
	t.Helper()
	rec := performRequest(r, http.MethodPost, "/session", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	var out createSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return out
}

func TestChatHandler_Flow(t *testing.T) {
	r := setupRouter(t, instantResolver(t), service.NewJWTService(""))

	created := createSession(t, r)
	if created.Session.ID == "" || len(created.Messages) != 1 || !created.Messages[0].IsBot {
		t.Fatalf("expected session with greeting, got %+v", created)
	}
	if created.Token != "" {
		t.Fatalf("no token expected without secret")
	}

	rec := performRequest(r, http.MethodPost, "/session/"+created.Session.ID+"/messages", map[string]string{
		"text": "what is the exam structure in curaj",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var ex service.Exchange
	if err := json.Unmarshal(rec.Body.Bytes(), &ex); err != nil {
		t.Fatalf("decode exchange: %v", err)
	}
	if ex.BotMessage.Text != "CURAJ B.Tech: 30% internal + 70% semester-end exam. A student must clear both parts to pass." {
		t.Fatalf("unexpected bot text %q", ex.BotMessage.Text)
	}
	if len(ex.BotMessage.Sources) != 1 || ex.BotMessage.Sources[0].Score != "0.95" {
		t.Fatalf("unexpected sources %+v", ex.BotMessage.Sources)
	}

	rec = performRequest(r, http.MethodGet, "/session/"+created.Session.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got struct {
		Messages []domain.Message `json:"messages"`
		Typing   bool             `json:"typing"`
		State    string           `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(got.Messages) != 3 || got.Typing || got.State != "idle" {
		t.Fatalf("unexpected history %+v", got)
	}

	rec = performRequest(r, http.MethodDelete, "/session/"+created.Session.ID, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = performRequest(r, http.MethodGet, "/session/"+created.Session.ID, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestChatHandler_PostMessageErrors(t *testing.T) {
	r := setupRouter(t, instantResolver(t), nil)
	created := createSession(t, r)

	rec := performRequest(r, http.MethodPost, "/session/"+created.Session.ID+"/messages", map[string]string{}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing text, got %d", rec.Code)
	}
	rec = performRequest(r, http.MethodPost, "/session/"+created.Session.ID+"/messages", map[string]string{"text": "   "}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for blank text, got %d", rec.Code)
	}
	rec = performRequest(r, http.MethodPost, "/session/missing/messages", map[string]string{"text": "hola"}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown session, got %d", rec.Code)
	}
}

func TestChatHandler_PendingReplyTimesOut(t *testing.T) {
	slow := service.ResponderFunc(func(ctx context.Context, q string) (domain.Reply, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return domain.Reply{Text: "late"}, nil
		case <-ctx.Done():
			return domain.Reply{}, ctx.Err()
		}
	})
	r := setupRouter(t, slow, nil)
	created := createSession(t, r)

	payload, _ := json.Marshal(map[string]string{"text": "hola"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/session/"+created.Session.ID+"/messages", bytes.NewReader(payload)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected status 504, got %d", rec.Code)
	}
	var body struct {
		UserMessage *domain.Message `json:"user_message"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.UserMessage == nil || body.UserMessage.Text != "hola" {
		t.Fatalf("expected stored user message in error body, got %s", rec.Body.String())
	}
}

func TestChatHandler_TokensRequiredWithSecret(t *testing.T) {
	r := setupRouter(t, instantResolver(t), service.NewJWTService("secret"))
	created := createSession(t, r)
	if created.Token == "" {
		t.Fatalf("expected session token")
	}

	rec := performRequest(r, http.MethodPost, "/session/"+created.Session.ID+"/messages", map[string]string{"text": "hola"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}
	rec = performRequest(r, http.MethodPost, "/session/"+created.Session.ID+"/messages", map[string]string{"text": "hola"}, created.Token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 with token, got %d", rec.Code)
	}
}
