package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// HTTPScorer calls a cross-encoder service that scores query/passage pairs.
type HTTPScorer struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

type scoreRequest struct {
	Model          string   `json:"model,omitempty"`
	Query          string   `json:"query"`
	CandidateTexts []string `json:"candidate_texts"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// NewHTTPScorer creates a scorer for endpoint. The API key is read from
// apiKeyEnv when it is set.
func NewHTTPScorer(endpoint, apiKeyEnv, model string, client *http.Client) (*HTTPScorer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, domain.ConfigError("reranker endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	var key string
	if apiKeyEnv != "" {
		key = os.Getenv(apiKeyEnv)
	}
	return &HTTPScorer{endpoint: endpoint, apiKey: key, model: model, client: client}, nil
}

func (s *HTTPScorer) ModelName() string {
	if s.model == "" {
		return "http"
	}
	return s.model
}

func (s *HTTPScorer) Score(ctx context.Context, query string, candidateTexts []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Model: s.model, Query: query, CandidateTexts: candidateTexts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.NewBackendError("reranker", "score", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.NewStatusError("reranker", "score", resp.StatusCode, string(msg))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewBackendError("reranker", "decode", err)
	}
	return out.Scores, nil
}
