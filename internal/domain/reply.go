package domain

// Source indica de qué documento sale una respuesta.
type Source struct {
	FileName string `json:"file_name" yaml:"file_name"`
	Score    string `json:"score" yaml:"score"`
}

// Reply es lo que produce el resolver para una consulta.
type Reply struct {
	Text    string   `json:"response"`
	Sources []Source `json:"sources,omitempty"`
}
