package port

import (
	"context"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// Generator represents a language model for answer generation.
type Generator interface {
	// Generate returns the model's reply to the conversation.
	Generate(ctx context.Context, messages []domain.Message) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
