package domain

import "time"

// TimestampLayout es el formato hh:mm con que el widget muestra cada mensaje.
const TimestampLayout = "15:04"

// Message es una entrada de la conversación de una sesión. Nunca se edita ni se borra
// de forma individual.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	IsBot     bool      `json:"is_bot"`
	Timestamp string    `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FormatTimestamp devuelve la hora local en formato hh:mm.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}
