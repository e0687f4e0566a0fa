package mock

import (
	"context"
	"strings"
	"sync"
)

// Scorer is a port.Scorer with a word-overlap default.
type Scorer struct {
	// ScoreFunc is called by Score if set.
	ScoreFunc func(ctx context.Context, query string, candidateTexts []string) ([]float64, error)

	mu        sync.Mutex
	callCount int
}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (m *Scorer) Score(ctx context.Context, query string, candidateTexts []string) ([]float64, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.ScoreFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, query, candidateTexts)
	}

	words := strings.Fields(strings.ToLower(query))
	scores := make([]float64, len(candidateTexts))
	for i, text := range candidateTexts {
		lower := strings.ToLower(text)
		for _, w := range words {
			if strings.Contains(lower, w) {
				scores[i]++
			}
		}
	}
	return scores, nil
}

func (m *Scorer) ModelName() string { return "mock-scorer" }

func (m *Scorer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
