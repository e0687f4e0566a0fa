package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// Generator is a port.Generator that never leaves the process.
type Generator struct {
	Model string

	// GenerateFunc is called by Generate if set.
	GenerateFunc func(ctx context.Context, messages []domain.Message) (string, error)

	mu        sync.Mutex
	callCount int
	last      []domain.Message
}

func NewGenerator() *Generator {
	return &Generator{Model: "mock-generator"}
}

func (m *Generator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.last = append([]domain.Message(nil), messages...)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}

	// Default: quote the first numbered context passage.
	for _, msg := range messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		for _, line := range strings.Split(msg.Content, "\n") {
			if strings.HasPrefix(line, "[1]") {
				return "According to [1]: " + strings.TrimSpace(strings.TrimPrefix(line, "[1]")), nil
			}
		}
	}
	return "I don't know.", nil
}

func (m *Generator) ModelName() string { return m.Model }

func (m *Generator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastMessages returns the messages of the most recent call.
func (m *Generator) LastMessages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
