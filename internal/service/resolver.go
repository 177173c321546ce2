package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/llm"
	"curaj-bot/internal/qa"
)

const (
	DefaultMinDelay = 1500 * time.Millisecond
	DefaultMaxDelay = 1800 * time.Millisecond
)

var ErrResolverNotConfigured = errors.New("resolver not configured")

// Responder es lo que la capa de chat necesita del resolver.
type Responder interface {
	Resolve(ctx context.Context, query string) (domain.Reply, error)
}

type ResponderFunc func(ctx context.Context, query string) (domain.Reply, error)

func (f ResponderFunc) Resolve(ctx context.Context, query string) (domain.Reply, error) {
	return f(ctx, query)
}

// MatchKind indica qué regla produjo la respuesta simulada.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchKeyword MatchKind = "keyword"
	MatchDefault MatchKind = "default"
)

// ResolverConfig agrupa las dependencias del resolver. El modo se fija al construirlo.
type ResolverConfig struct {
	Mode            domain.ResolverMode
	Table           *qa.Table
	Backend         llm.Client
	MinDelay        time.Duration
	MaxDelay        time.Duration
	LiveMaxInFlight int64
	Logger          *zap.Logger
}

// Resolver traduce una consulta libre en una respuesta del bot.
type Resolver struct {
	mode     domain.ResolverMode
	table    *qa.Table
	backend  llm.Client
	minDelay time.Duration
	maxDelay time.Duration
	liveSem  *semaphore.Weighted
	logger   *zap.Logger

	int64N func(n int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = domain.ModeSimulated
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Resolver{
		mode:     mode,
		table:    cfg.Table,
		backend:  cfg.Backend,
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		logger:   logger,
		int64N:   rand.Int64N,
		sleep:    sleepContext,
	}

	switch mode {
	case domain.ModeSimulated:
		if r.table == nil {
			return nil, fmt.Errorf("%w: simulated mode needs a qa table", ErrResolverNotConfigured)
		}
		if r.minDelay < 0 || r.maxDelay < r.minDelay {
			return nil, fmt.Errorf("%w: invalid delay interval [%v, %v]", ErrResolverNotConfigured, r.minDelay, r.maxDelay)
		}
	case domain.ModeLive:
		if r.backend == nil {
			return nil, fmt.Errorf("%w: live mode needs a backend client", ErrResolverNotConfigured)
		}
		if cfg.LiveMaxInFlight > 0 {
			r.liveSem = semaphore.NewWeighted(cfg.LiveMaxInFlight)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrResolverNotConfigured, mode)
	}

	return r, nil
}

// NewSimulatedResolver es un atajo con el intervalo de espera por defecto.
func NewSimulatedResolver(table *qa.Table, logger *zap.Logger) (*Resolver, error) {
	return NewResolver(ResolverConfig{
		Mode:     domain.ModeSimulated,
		Table:    table,
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
		Logger:   logger,
	})
}

func (r *Resolver) Mode() domain.ResolverMode {
	return r.mode
}

// Resolve devuelve la respuesta a query. En modo simulado la respuesta sólo se entrega
// cuando termina la espera; si ctx se cancela antes, devuelve ctx.Err(). En modo live
// los fallos del backend se convierten en un mensaje de disculpa y nunca en error.
func (r *Resolver) Resolve(ctx context.Context, query string) (domain.Reply, error) {
	if r == nil {
		return domain.Reply{}, ErrResolverNotConfigured
	}
	if r.mode == domain.ModeLive {
		return r.resolveLive(ctx, query)
	}

	reply, kind := r.Match(query)
	delay := r.NextDelay()
	r.logger.Debug("simulated resolution",
		zap.String("match", string(kind)),
		zap.Duration("delay", delay),
	)
	if err := r.sleep(ctx, delay); err != nil {
		return domain.Reply{}, err
	}
	return reply, nil
}

// Match aplica las reglas de la tabla en orden: clave exacta, palabra clave y respuesta
// genérica.
func (r *Resolver) Match(query string) (domain.Reply, MatchKind) {
	key := qa.Normalize(query)
	if entry, ok := r.table.Lookup(key); ok {
		return entry.Reply(), MatchExact
	}
	if entry, ok := r.table.MatchKeyword(key); ok {
		return entry.Reply(), MatchKeyword
	}
	return r.table.DefaultReply(), MatchDefault
}

// NextDelay elige un número entero de milisegundos uniforme en [minDelay, maxDelay].
func (r *Resolver) NextDelay() time.Duration {
	minMS := r.minDelay.Milliseconds()
	maxMS := r.maxDelay.Milliseconds()
	if maxMS <= minMS {
		return time.Duration(minMS) * time.Millisecond
	}
	return time.Duration(minMS+r.int64N(maxMS-minMS+1)) * time.Millisecond
}

func (r *Resolver) resolveLive(ctx context.Context, query string) (domain.Reply, error) {
	if r.liveSem != nil {
		if err := r.liveSem.Acquire(ctx, 1); err != nil {
			return domain.Reply{}, err
		}
		defer r.liveSem.Release(1)
	}

	reply, err := r.backend.Query(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Reply{}, ctxErr
		}
		r.logger.Warn("backend query failed", zap.Error(err))
		return ApologyReply(err), nil
	}
	return reply, nil
}

// ApologyReply arma el mensaje visible para el usuario cuando falla el backend.
func ApologyReply(err error) domain.Reply {
	reason := "unknown error"
	var be *llm.BackendError
	switch {
	case errors.As(err, &be) && strings.TrimSpace(be.Reason) != "":
		reason = be.Reason
	case err != nil:
		reason = err.Error()
	}
	reason = strings.TrimRight(strings.TrimSpace(reason), ".")
	return domain.Reply{Text: fmt.Sprintf("Sorry, I ran into a problem: %s.", reason)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
