package embedding

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

const backendName = "embedding"

// HTTPBackend calls an OpenAI-compatible /embeddings endpoint.
type HTTPBackend struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse accepts both the OpenAI shape (data[].embedding) and the
// plain shape ({"embeddings": [...]}).
type embeddingResponse struct {
	Data       []embeddingData `json:"data"`
	Embeddings [][]float32     `json:"embeddings"`
	Error      *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIBackend reads the API key from apiKeyEnv.
func NewOpenAIBackend(apiKeyEnv, model, baseURL string, client *http.Client) (*HTTPBackend, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, domain.ConfigError("API key not found in environment variable: %s", apiKeyEnv)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return newHTTPBackend(apiKey, model, baseURL, client), nil
}

// NewOllamaBackend talks to a local Ollama server, which needs no key.
func NewOllamaBackend(model, baseURL string, client *http.Client) *HTTPBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return newHTTPBackend("ollama", model, baseURL, client)
}

func newHTTPBackend(apiKey, model, baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (b *HTTPBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonData, err := json.Marshal(embeddingRequest{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, domain.NewBackendError(backendName, "embed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewBackendError(backendName, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewStatusError(backendName, "embed", resp.StatusCode, preview(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, &domain.BackendError{
			Backend: backendName,
			Op:      "parse response",
			Err:     fmt.Errorf("body %q: %w", preview(body), err),
		}
	}
	if embResp.Error != nil {
		return nil, &domain.BackendError{
			Backend: backendName,
			Op:      "embed",
			Err:     fmt.Errorf("API error: %s", embResp.Error.Message),
		}
	}

	embeddings := make([][]float32, len(texts))
	switch {
	case len(embResp.Data) > 0:
		for _, data := range embResp.Data {
			if data.Index >= 0 && data.Index < len(embeddings) {
				embeddings[data.Index] = data.Embedding
			}
		}
	case len(embResp.Embeddings) > 0:
		if len(embResp.Embeddings) != len(texts) {
			return nil, countMismatch(len(texts), len(embResp.Embeddings))
		}
		copy(embeddings, embResp.Embeddings)
	}

	for i, e := range embeddings {
		if e == nil {
			return nil, &domain.BackendError{
				Backend: backendName,
				Op:      "parse response",
				Err:     fmt.Errorf("missing embedding for input %d", i),
			}
		}
	}

	return embeddings, nil
}

func (b *HTTPBackend) ModelName() string {
	return b.model
}

func countMismatch(want, got int) error {
	return &domain.BackendError{
		Backend: backendName,
		Op:      "parse response",
		Err:     fmt.Errorf("got %d embeddings for %d inputs", got, want),
	}
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
