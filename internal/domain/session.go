package domain

import "time"

// SessionState refleja el ciclo de una consulta: Idle -> Awaiting -> Idle.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionAwaiting SessionState = "awaiting"
)

type Session struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
