package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"curaj-bot/internal/domain"
)

var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrBackendStatus      = errors.New("backend error status")
	ErrBackendMalformed   = errors.New("backend malformed response")
)

const defaultStatusReason = "The server responded with an error"

// Client define el contrato del backend RAG real.
type Client interface {
	Query(ctx context.Context, prompt string) (domain.Reply, error)
}

// BackendError conserva el motivo legible que se muestra al usuario junto con la
// categoría del fallo.
type BackendError struct {
	Kind   error
	Status int
	Reason string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *BackendError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// HTTPClient implementa Client contra un endpoint POST {prompt} -> {response, sources}.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient construye el cliente; timeout <= 0 usa 60s.
func NewHTTPClient(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *HTTPClient) Query(ctx context.Context, prompt string) (domain.Reply, error) {
	bodyBytes, err := json.Marshal(queryRequest{Prompt: prompt})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return domain.Reply{}, &BackendError{Kind: ErrBackendUnreachable, Reason: "invalid backend endpoint", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Reply{}, ctxErr
		}
		return domain.Reply{}, &BackendError{Kind: ErrBackendUnreachable, Reason: "could not reach the server", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Reply{}, &BackendError{Kind: ErrBackendUnreachable, Status: resp.StatusCode, Reason: "connection lost while reading the response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("backend error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), 512)),
		)
		reason := defaultStatusReason
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && strings.TrimSpace(eb.Error) != "" {
			reason = strings.TrimSpace(eb.Error)
		}
		return domain.Reply{}, &BackendError{Kind: ErrBackendStatus, Status: resp.StatusCode, Reason: reason}
	}

	var qr queryResponse
	if err := json.Unmarshal(respBody, &qr); err != nil {
		return domain.Reply{}, &BackendError{Kind: ErrBackendMalformed, Status: resp.StatusCode, Reason: "the server sent an unreadable response", Err: err}
	}
	if qr.Response == nil {
		return domain.Reply{}, &BackendError{Kind: ErrBackendMalformed, Status: resp.StatusCode, Reason: "the server response has no answer"}
	}

	return domain.Reply{Text: strings.TrimSpace(*qr.Response), Sources: qr.Sources}, nil
}

// truncate corta s a lo sumo en n bytes sin partir una runa.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type queryRequest struct {
	Prompt string `json:"prompt"`
}

type queryResponse struct {
	Response *string         `json:"response"`
	Sources  []domain.Source `json:"sources,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}
