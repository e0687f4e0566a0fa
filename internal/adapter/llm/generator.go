// Package llm adapts chat models to the answer generator port.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Generator sends chat messages through a langchaingo model.
type Generator struct {
	model       llms.Model
	name        string
	temperature float64
	logger      *slog.Logger
}

// OpenAIConfig selects an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	BaseURL     string
	Model       string
	APIKeyEnv   string
	Temperature float64
	// Timeout bounds each HTTP round trip; zero leaves it to the context.
	Timeout time.Duration
}

// NewOpenAIGenerator builds a generator for an OpenAI-compatible API. Local
// servers without authentication work with an unset key variable.
func NewOpenAIGenerator(cfg OpenAIConfig) (*Generator, error) {
	token := "none"
	if cfg.APIKeyEnv != "" {
		if v := os.Getenv(cfg.APIKeyEnv); v != "" {
			token = v
		}
	}
	if token == "none" && cfg.BaseURL == "" {
		return nil, domain.ConfigError("generation api key %s is not set", cfg.APIKeyEnv)
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewGenerator(client, cfg.Model, cfg.Temperature), nil
}

// NewGenerator wraps an existing langchaingo model.
func NewGenerator(model llms.Model, name string, temperature float64) *Generator {
	return &Generator{
		model:       model,
		name:        name,
		temperature: temperature,
		logger:      slog.Default().With("component", "llm-generator"),
	}
}

func (g *Generator) ModelName() string { return g.name }

// Generate returns the first choice of the model's reply.
func (g *Generator) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.MessageContent{
			Role:  chatRole(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	resp, err := g.model.GenerateContent(ctx, content, llms.WithTemperature(g.temperature))
	if err != nil {
		g.logger.Error("failed to generate content", "model", g.name, "err", err)
		return "", domain.NewBackendError("generator", "generate", err)
	}
	if len(resp.Choices) < 1 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case domain.RoleSystem:
		return llms.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
