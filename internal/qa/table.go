package qa

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"curaj-bot/internal/domain"
)

//go:embed default_qa.yaml
var defaultTable []byte

var ErrInvalidTable = errors.New("invalid qa table")

// Entry es una respuesta enlatada con sus fuentes opcionales.
type Entry struct {
	Response string
	Sources  []domain.Source
}

// Reply convierte la entrada en la respuesta que devuelve el resolver.
func (e Entry) Reply() domain.Reply {
	return domain.Reply{Text: e.Response, Sources: slices.Clone(e.Sources)}
}

// KeywordFallback redirige a Key cualquier consulta que contenga alguna de las palabras.
type KeywordFallback struct {
	Key      string
	Keywords []string
}

// Table es la tabla de preguntas y respuestas. Se carga una vez y no cambia después.
type Table struct {
	greeting     string
	defaultReply string
	entries      map[string]Entry
	keys         []string
	fallbacks    []KeywordFallback
}

type tableFile struct {
	Greeting     string `yaml:"greeting"`
	DefaultReply string `yaml:"default_reply"`
	Entries      []struct {
		Question string          `yaml:"question"`
		Response string          `yaml:"response"`
		Sources  []domain.Source `yaml:"sources"`
	} `yaml:"entries"`
	KeywordFallbacks []struct {
		Key      string   `yaml:"key"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"keyword_fallbacks"`
}

// Default devuelve la tabla embebida en el binario.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// LoadFile lee una tabla YAML desde disco.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read qa table: %w", err)
	}
	return Parse(data)
}

// Load usa path si no está vacío y la tabla embebida en caso contrario.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return LoadFile(path)
}

// Parse decodifica y valida una tabla. Las preguntas y las palabras clave se guardan
// ya normalizadas.
func Parse(data []byte) (*Table, error) {
	var raw tableFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidTable, err)
	}

	t := &Table{
		greeting:     strings.TrimSpace(raw.Greeting),
		defaultReply: strings.TrimSpace(raw.DefaultReply),
		entries:      make(map[string]Entry, len(raw.Entries)),
	}
	if t.defaultReply == "" {
		return nil, fmt.Errorf("%w: default_reply is empty", ErrInvalidTable)
	}
	if len(raw.Entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidTable)
	}

	for i, e := range raw.Entries {
		key := Normalize(e.Question)
		if key == "" {
			return nil, fmt.Errorf("%w: entry %d: question %q normalizes to an empty key", ErrInvalidTable, i, e.Question)
		}
		if _, dup := t.entries[key]; dup {
			return nil, fmt.Errorf("%w: entry %d: duplicate key %q", ErrInvalidTable, i, key)
		}
		response := strings.TrimSpace(e.Response)
		if response == "" {
			return nil, fmt.Errorf("%w: entry %q: empty response", ErrInvalidTable, key)
		}
		for _, src := range e.Sources {
			if strings.TrimSpace(src.FileName) == "" {
				return nil, fmt.Errorf("%w: entry %q: source without file_name", ErrInvalidTable, key)
			}
		}
		var sources []domain.Source
		if len(e.Sources) > 0 {
			sources = slices.Clone(e.Sources)
		}
		t.entries[key] = Entry{Response: response, Sources: sources}
		t.keys = append(t.keys, key)
	}

	for i, fb := range raw.KeywordFallbacks {
		key := Normalize(fb.Key)
		if _, ok := t.entries[key]; !ok {
			return nil, fmt.Errorf("%w: keyword fallback %d references missing key %q", ErrInvalidTable, i, fb.Key)
		}
		if len(fb.Keywords) == 0 {
			return nil, fmt.Errorf("%w: keyword fallback %q has no keywords", ErrInvalidTable, key)
		}
		keywords := make([]string, 0, len(fb.Keywords))
		for _, kw := range fb.Keywords {
			norm := Normalize(kw)
			if norm == "" {
				return nil, fmt.Errorf("%w: keyword fallback %q: keyword %q normalizes to empty", ErrInvalidTable, key, kw)
			}
			keywords = append(keywords, norm)
		}
		t.fallbacks = append(t.fallbacks, KeywordFallback{Key: key, Keywords: keywords})
	}

	return t, nil
}

// Greeting es el primer mensaje del bot en una sesión nueva.
func (t *Table) Greeting() string {
	return t.greeting
}

// DefaultReply es la respuesta genérica, sin fuentes.
func (t *Table) DefaultReply() domain.Reply {
	return domain.Reply{Text: t.defaultReply}
}

// Lookup busca una clave ya normalizada.
func (t *Table) Lookup(key string) (Entry, bool) {
	e, ok := t.entries[key]
	return e, ok
}

// MatchKeyword devuelve la entrada del primer fallback (en orden de declaración) con
// alguna palabra contenida en key.
func (t *Table) MatchKeyword(key string) (Entry, bool) {
	for _, fb := range t.fallbacks {
		for _, kw := range fb.Keywords {
			if strings.Contains(key, kw) {
				return t.entries[fb.Key], true
			}
		}
	}
	return Entry{}, false
}

// Keys devuelve las claves normalizadas en orden de declaración.
func (t *Table) Keys() []string {
	return slices.Clone(t.keys)
}

// Fallbacks devuelve una copia de los fallbacks por palabra clave.
func (t *Table) Fallbacks() []KeywordFallback {
	out := make([]KeywordFallback, 0, len(t.fallbacks))
	for _, fb := range t.fallbacks {
		out = append(out, KeywordFallback{Key: fb.Key, Keywords: slices.Clone(fb.Keywords)})
	}
	return out
}
