package qa

import (
	"strings"
	"unicode"
)

// Normalize convierte una consulta en la clave de búsqueda de la tabla: minúsculas,
// sin signos de puntuación, con un único espacio entre palabras y sin espacios en los
// extremos. Letras, marcas combinantes, dígitos y '_' cuentan como caracteres de
// palabra en cualquier alfabeto.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case isWordRune(r):
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r)
}
