package usecase

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// RefusalText is what the model is told to answer when the context is insufficient.
const RefusalText = "I don't know based on the provided documents."

//go:embed templates/*.txt
var templateFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.txt"))

type contextBlock struct {
	Index   int
	Title   string
	Source  string
	Content string
}

// promptBuilder renders the grounding prompt within a token budget.
type promptBuilder struct {
	tokenizer *analyzer.Tokenizer
	budget    int
}

// build returns the system and user messages. Results are packed best first
// until the budget is spent; the first result is always included.
func (p *promptBuilder) build(query string, results []domain.RankedResult) ([]domain.Message, int, error) {
	var blocks []contextBlock
	used := 0
	for i, r := range results {
		cost := p.tokenizer.CountTokens(r.Chunk.Content)
		if i > 0 && p.budget > 0 && used+cost > p.budget {
			break
		}
		used += cost
		blocks = append(blocks, contextBlock{
			Index:   i + 1,
			Title:   r.Chunk.Title(),
			Source:  r.Chunk.Source(),
			Content: strings.TrimSpace(r.Chunk.Content),
		})
	}

	var system, user strings.Builder
	if err := promptTemplates.ExecuteTemplate(&system, "system.txt", map[string]any{"Refusal": RefusalText}); err != nil {
		return nil, 0, fmt.Errorf("render system prompt: %w", err)
	}
	if err := promptTemplates.ExecuteTemplate(&user, "user.txt", map[string]any{"Blocks": blocks, "Query": query}); err != nil {
		return nil, 0, fmt.Errorf("render user prompt: %w", err)
	}

	return []domain.Message{
		{Role: domain.RoleSystem, Content: strings.TrimSpace(system.String())},
		{Role: domain.RoleUser, Content: strings.TrimSpace(user.String())},
	}, len(blocks), nil
}
