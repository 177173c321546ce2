package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/repository"
)

var (
	ErrChatNotConfigured = errors.New("chat service not configured")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrRateLimited       = errors.New("rate limited")

	errEmptyReply = errors.New("the answer came back empty")
)

const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultSweepInterval = time.Minute
)

// ChatOptions ajusta el comportamiento de ChatService.
type ChatOptions struct {
	Greeting   string
	SessionTTL time.Duration
	// Serialize encola las consultas de una misma sesión y responde en orden de llegada.
	// Con false cada consulta se resuelve por su cuenta y las respuestas se agregan en
	// el orden en que terminan.
	Serialize bool
	Limiter   MessageRateLimiter
	// SweepInterval es cada cuánto se descartan las sesiones vencidas que nadie volvió a
	// consultar. Negativo desactiva el barrido.
	SweepInterval time.Duration
}

// Exchange es el par mensaje de usuario / respuesta del bot de un envío.
type Exchange struct {
	UserMessage domain.Message `json:"user_message"`
	BotMessage  domain.Message `json:"bot_message"`
}

// ChatService mantiene la conversación de cada sesión alrededor del resolver.
type ChatService struct {
	resolver  Responder
	sessions  repository.SessionRepository
	messages  *MessageService
	limiter   MessageRateLimiter
	greeting  string
	ttl       time.Duration
	serialize bool
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	active     map[string]*sessionState
	ended      map[string]time.Time
	rootCtx    context.Context
	rootCancel context.CancelFunc
	sweepDone  chan struct{}
}

// sessionState es el estado en proceso de una sesión: su token de cancelación, la cola
// de consultas y cuántas hay pendientes.
type sessionState struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	tail     chan struct{}
	inflight int
}

type sendResult struct {
	msg domain.Message
	err error
}

func NewChatService(
	resolver Responder,
	sessions repository.SessionRepository,
	messages *MessageService,
	logger *zap.Logger,
	opts ChatOptions,
) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &ChatService{
		resolver:   resolver,
		sessions:   sessions,
		messages:   messages,
		limiter:    opts.Limiter,
		greeting:   strings.TrimSpace(opts.Greeting),
		ttl:        ttl,
		serialize:  opts.Serialize,
		logger:     logger,
		now:        time.Now,
		active:     make(map[string]*sessionState),
		ended:      make(map[string]time.Time),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}

	interval := opts.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		s.sweepDone = make(chan struct{})
		go s.sweepLoop(interval)
	}
	return s
}

func (s *ChatService) configured() bool {
	return s != nil && s.resolver != nil && s.sessions != nil && s.messages != nil
}

// CreateSession abre una sesión nueva y, si hay saludo configurado, lo agrega como
// primer mensaje del bot.
func (s *ChatService) CreateSession(ctx context.Context) (domain.Session, []domain.Message, error) {
	if !s.configured() {
		return domain.Session{}, nil, ErrChatNotConfigured
	}

	now := s.now().UTC()
	session := domain.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.Session{}, nil, err
	}

	history := []domain.Message{}
	if s.greeting != "" {
		greeting, err := s.messages.Save(ctx, domain.Message{
			SessionID: session.ID,
			Text:      s.greeting,
			IsBot:     true,
		})
		if err != nil {
			return domain.Session{}, nil, err
		}
		history = append(history, greeting)
	}

	s.mu.Lock()
	s.active[session.ID] = newSessionState(s.rootCtx)
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", session.ID))
	return session, history, nil
}

// Session devuelve la sesión si existe y no venció.
func (s *ChatService) Session(ctx context.Context, id string) (domain.Session, error) {
	if !s.configured() {
		return domain.Session{}, ErrChatNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, ErrSessionNotFound
	}
	session, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		s.discard(ctx, id)
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// History devuelve los mensajes de la sesión en el orden en que se agregaron.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, sessionID)
}

// Typing es true mientras la sesión tiene alguna consulta esperando respuesta.
func (s *ChatService) Typing(sessionID string) bool {
	return s.State(sessionID) == domain.SessionAwaiting
}

func (s *ChatService) State(sessionID string) domain.SessionState {
	if s == nil {
		return domain.SessionIdle
	}
	s.mu.Lock()
	st := s.active[sessionID]
	s.mu.Unlock()
	if st == nil {
		return domain.SessionIdle
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inflight > 0 {
		return domain.SessionAwaiting
	}
	return domain.SessionIdle
}

// Send agrega el mensaje del usuario, resuelve la respuesta y la agrega a continuación.
// La resolución depende de la sesión y no de ctx: si ctx se cancela Send vuelve antes,
// pero la respuesta igual se agrega al historial salvo que la sesión termine.
func (s *ChatService) Send(ctx context.Context, sessionID, text string) (Exchange, error) {
	if !s.configured() {
		return Exchange{}, ErrChatNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return Exchange{}, ErrMessageInvalidInput
	}
	sessionID = strings.TrimSpace(sessionID)

	st, err := s.state(ctx, sessionID)
	if err != nil {
		return Exchange{}, err
	}
	if s.limiter != nil && !s.limiter.Allow(ctx, sessionID) {
		return Exchange{}, ErrRateLimited
	}

	st.mu.Lock()
	if st.ctx.Err() != nil {
		st.mu.Unlock()
		return Exchange{}, ErrSessionClosed
	}
	userMsg, err := s.messages.Save(ctx, domain.Message{SessionID: sessionID, Text: text})
	if err != nil {
		st.mu.Unlock()
		return Exchange{}, err
	}
	st.inflight++
	var prev, mine chan struct{}
	if s.serialize {
		prev = st.tail
		mine = make(chan struct{})
		st.tail = mine
	}
	st.mu.Unlock()

	done := make(chan sendResult, 1)
	go func() {
		msg, err := s.reply(st, prev, sessionID, text)
		st.mu.Lock()
		st.inflight--
		st.mu.Unlock()
		if mine != nil {
			release(prev, mine)
		}
		done <- sendResult{msg: msg, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Exchange{UserMessage: userMsg}, res.err
		}
		return Exchange{UserMessage: userMsg, BotMessage: res.msg}, nil
	case <-ctx.Done():
		return Exchange{UserMessage: userMsg}, ctx.Err()
	}
}

func (s *ChatService) reply(st *sessionState, prev chan struct{}, sessionID, text string) (domain.Message, error) {
	if prev != nil {
		select {
		case <-prev:
		case <-st.ctx.Done():
			return domain.Message{}, ErrSessionClosed
		}
	}

	reply, err := s.resolver.Resolve(st.ctx, text)
	if err != nil {
		if st.ctx.Err() != nil {
			return domain.Message{}, ErrSessionClosed
		}
		s.logger.Error("resolve failed", zap.String("session_id", sessionID), zap.Error(err))
		return domain.Message{}, err
	}
	if strings.TrimSpace(reply.Text) == "" {
		s.logger.Warn("empty reply", zap.String("session_id", sessionID))
		reply = ApologyReply(errEmptyReply)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ctx.Err() != nil {
		return domain.Message{}, ErrSessionClosed
	}
	return s.messages.Save(st.ctx, domain.Message{
		SessionID: sessionID,
		Text:      reply.Text,
		IsBot:     true,
		Sources:   reply.Sources,
	})
}

// EndSession cancela las consultas pendientes de la sesión y borra su historial.
func (s *ChatService) EndSession(ctx context.Context, sessionID string) error {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return err
	}
	s.forget(sessionID)
	if err := s.messages.DeleteBySession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session ended", zap.String("session_id", sessionID))
	return nil
}

// Close cancela todas las consultas pendientes.
func (s *ChatService) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	states := s.active
	s.active = make(map[string]*sessionState)
	s.mu.Unlock()

	for _, st := range states {
		st.stop()
	}
	s.rootCancel()
	if s.sweepDone != nil {
		<-s.sweepDone
	}
}

func (s *ChatService) state(ctx context.Context, sessionID string) (*sessionState, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootCtx.Err() != nil {
		return nil, ErrSessionClosed
	}
	if _, gone := s.ended[sessionID]; gone {
		return nil, ErrSessionNotFound
	}
	st, ok := s.active[sessionID]
	if !ok {
		st = newSessionState(s.rootCtx)
		s.active[sessionID] = st
	}
	return st, nil
}

// forget deja una marca para que un Send que ya pasó la verificación de la sesión no
// vuelva a registrarla.
func (s *ChatService) forget(sessionID string) {
	s.mu.Lock()
	st := s.active[sessionID]
	delete(s.active, sessionID)
	s.ended[sessionID] = s.now()
	s.mu.Unlock()
	if st != nil {
		st.stop()
	}
}

// discard olvida una sesión vencida junto con sus mensajes.
func (s *ChatService) discard(ctx context.Context, sessionID string) {
	s.forget(sessionID)
	if err := s.messages.DeleteBySession(ctx, sessionID); err != nil {
		s.logger.Warn("delete expired messages failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *ChatService) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.rootCtx.Done():
			return
		case <-ticker.C:
			if n := s.sweep(s.rootCtx, interval); n > 0 {
				s.logger.Info("expired sessions discarded", zap.Int("count", n))
			}
		}
	}
}

// sweep descarta las sesiones registradas que ya vencieron y limpia las marcas de
// sesiones terminadas hace más de keep. Devuelve cuántas sesiones descartó.
func (s *ChatService) sweep(ctx context.Context, keep time.Duration) int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	cutoff := s.now().Add(-keep)
	for id, at := range s.ended {
		if at.Before(cutoff) {
			delete(s.ended, id)
		}
	}
	s.mu.Unlock()

	discarded := 0
	for _, id := range ids {
		if _, err := s.Session(ctx, id); errors.Is(err, ErrSessionNotFound) {
			discarded++
		}
	}
	return discarded
}

func newSessionState(parent context.Context) *sessionState {
	ctx, cancel := context.WithCancel(parent)
	return &sessionState{ctx: ctx, cancel: cancel}
}

// stop cancela la sesión bajo su lock para que ninguna respuesta se agregue después.
func (st *sessionState) stop() {
	st.mu.Lock()
	st.cancel()
	st.mu.Unlock()
}

// release libera el turno de la cola cuando el anterior ya terminó.
func release(prev, mine chan struct{}) {
	if prev == nil {
		close(mine)
		return
	}
	select {
	case <-prev:
		close(mine)
	default:
		go func() {
			<-prev
			close(mine)
		}()
	}
}
