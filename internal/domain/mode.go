package domain

import (
	"fmt"
	"strings"
)

// ResolverMode decide si las respuestas salen de la tabla local o del backend real.
type ResolverMode string

const (
	ModeSimulated ResolverMode = "simulated"
	ModeLive      ResolverMode = "live"
)

// ParseResolverMode acepta "simulated" o "live" sin importar mayúsculas.
func ParseResolverMode(s string) (ResolverMode, error) {
	switch ResolverMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSimulated, "":
		return ModeSimulated, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown resolver mode %q", s)
	}
}

// UnmarshalText permite leer el modo directamente desde variables de entorno.
func (m *ResolverMode) UnmarshalText(text []byte) error {
	parsed, err := ParseResolverMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
