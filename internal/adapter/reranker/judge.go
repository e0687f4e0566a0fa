package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/port"
)

const judgeSystemPrompt = `You rate how relevant passages are to a question.
Reply with only a JSON array of numbers from 0 to 10, one per passage, in passage order.`

// JudgeScorer asks a chat model to rate each passage.
type JudgeScorer struct {
	generator port.Generator
	maxChars  int
}

// NewJudgeScorer creates a scorer backed by generator.
func NewJudgeScorer(generator port.Generator) (*JudgeScorer, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	return &JudgeScorer{generator: generator, maxChars: 800}, nil
}

func (j *JudgeScorer) ModelName() string { return "judge:" + j.generator.ModelName() }

func (j *JudgeScorer) Score(ctx context.Context, query string, candidateTexts []string) ([]float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	for i, text := range candidateTexts {
		if r := []rune(text); len(r) > j.maxChars {
			text = string(r[:j.maxChars])
		}
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, text)
	}
	fmt.Fprintf(&b, "Return %d scores.", len(candidateTexts))

	reply, err := j.generator.Generate(ctx, []domain.Message{
		{Role: domain.RoleSystem, Content: judgeSystemPrompt},
		{Role: domain.RoleUser, Content: b.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}
	return parseScores(reply)
}

// parseScores extracts the first JSON array from reply, ignoring code fences
// and surrounding prose.
func parseScores(reply string) ([]float64, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("judge reply has no score array: %q", truncate(reply, 80))
	}

	var scores []float64
	if err := json.Unmarshal([]byte(reply[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("parse judge scores: %w", err)
	}
	for i, s := range scores {
		scores[i] = s / 10
	}
	return scores, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
