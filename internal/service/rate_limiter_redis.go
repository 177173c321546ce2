package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageRateLimiter limita cuántos mensajes puede enviar una sesión por ventana.
type MessageRateLimiter interface {
	Allow(ctx context.Context, sessionID string) bool
}

// Cada ventana tiene su propia clave; PEXPIRE sólo se fija en el primer incremento.
const redisAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

const rateLimitTimeout = 500 * time.Millisecond

type redisRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
	now    func() time.Time
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// NewRedisRateLimiter cuenta mensajes por sesión en ventanas fijas. Si Redis falla deja
// pasar.
func NewRedisRateLimiter(client *redis.Client, window time.Duration, max int) MessageRateLimiter {
	if client == nil {
		return nil
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "chat:rl:",
		now:    time.Now,
	}
}

func (l *redisRateLimiter) Allow(ctx context.Context, sessionID string) bool {
	if l == nil || l.client == nil {
		return true
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, rateLimitTimeout)
	defer cancel()

	windowMS := l.window.Milliseconds()
	count, err := l.client.Eval(ctx, redisAllowScript, []string{l.windowKey(sessionID)}, windowMS).Int()
	if err != nil {
		return true
	}
	return count <= l.max
}

// windowKey es chat:rl:<session>:<índice de ventana>.
func (l *redisRateLimiter) windowKey(sessionID string) string {
	bucket := l.now().UnixMilli() / l.window.Milliseconds()
	return l.prefix + sessionID + ":" + strconv.FormatInt(bucket, 10)
}
