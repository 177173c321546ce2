package llm

import (
	"context"
	"sync"

	"curaj-bot/internal/domain"
)

// MockClient permite tests sin llamar al backend real.
type MockClient struct {
	mu      sync.Mutex
	Reply   domain.Reply
	Err     error
	Prompts []string
}

func (m *MockClient) Query(_ context.Context, prompt string) (domain.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	return m.Reply, m.Err
}
