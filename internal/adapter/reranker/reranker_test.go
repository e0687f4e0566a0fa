package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/mock"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

func candidates(contents ...string) []domain.FusedCandidate {
	out := make([]domain.FusedCandidate, len(contents))
	for i, c := range contents {
		out[i] = domain.FusedCandidate{
			Chunk:      domain.Chunk{ID: string(rune('a' + i)), Content: c},
			FusedScore: 1.0 / float64(61+i),
		}
	}
	return out
}

func resultIDs(r domain.Reranked) []string {
	out := make([]string, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Chunk.ID
	}
	return out
}

func TestNew(t *testing.T) {
	r, err := New(KindNone, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", r.Name())

	r, err = New(KindHeuristic, nil)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", r.Name())

	_, err = New(KindModel, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	r, err = New(KindModel, mock.NewScorer())
	require.NoError(t, err)
	assert.Equal(t, "model:mock-scorer", r.Name())

	_, err = New("llm", nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNull(t *testing.T) {
	out := Null{}.Rerank(context.Background(), "q", candidates("x", "y", "z"), 2)
	assert.False(t, out.Applied)
	assert.False(t, out.Degraded)
	assert.Equal(t, []string{"a", "b"}, resultIDs(out))
	assert.Nil(t, out.Results[0].RerankScore)
	assert.InDelta(t, 1.0/61, out.Results[0].FinalScore(), 1e-12)
}

func TestHeuristic(t *testing.T) {
	h := NewHeuristic()
	out := h.Rerank(context.Background(), "battery warranty period", candidates(
		"shipping rates for europe",
		"battery warranty lasts two years",
		"battery replacement costs",
		"shipping to canada",
	), 3)

	assert.True(t, out.Applied)
	require.Len(t, out.Results, 3)
	assert.Equal(t, "b", out.Results[0].Chunk.ID)
	assert.Equal(t, "c", out.Results[1].Chunk.ID)
	// a and d tie at zero; fused order is kept
	assert.Equal(t, "a", out.Results[2].Chunk.ID)
	require.NotNil(t, out.Results[0].RerankScore)
	assert.InDelta(t, 2.0/3, *out.Results[0].RerankScore, 1e-9)
}

func TestModel(t *testing.T) {
	ctx := context.Background()

	t.Run("reorders by score", func(t *testing.T) {
		s := mock.NewScorer()
		s.ScoreFunc = func(_ context.Context, _ string, texts []string) ([]float64, error) {
			return []float64{0.1, 0.9, 0.5}, nil
		}
		r, err := New(KindModel, s)
		require.NoError(t, err)

		out := r.Rerank(ctx, "q", candidates("x", "y", "z"), 2)
		assert.True(t, out.Applied)
		assert.False(t, out.Degraded)
		assert.Equal(t, []string{"b", "c"}, resultIDs(out))
		assert.InDelta(t, 0.9, out.Results[0].FinalScore(), 1e-12)
	})

	failing := map[string]func(context.Context, string, []string) ([]float64, error){
		"error": func(context.Context, string, []string) ([]float64, error) {
			return nil, errors.New("model overloaded")
		},
		"count mismatch": func(context.Context, string, []string) ([]float64, error) {
			return []float64{1}, nil
		},
		"ignores deadline": func(context.Context, string, []string) ([]float64, error) {
			time.Sleep(200 * time.Millisecond)
			return []float64{3, 2, 1}, nil
		},
	}
	for name, fn := range failing {
		t.Run("fails open on "+name, func(t *testing.T) {
			s := mock.NewScorer()
			s.ScoreFunc = fn
			r, err := New(KindModel, s, WithTimeout(20*time.Millisecond))
			require.NoError(t, err)

			start := time.Now()
			out := r.Rerank(ctx, "q", candidates("x", "y", "z"), 2)
			assert.Less(t, time.Since(start), 150*time.Millisecond)
			assert.True(t, out.Degraded)
			assert.False(t, out.Applied)
			assert.Equal(t, []string{"a", "b"}, resultIDs(out))
			assert.Nil(t, out.Results[0].RerankScore)
		})
	}

	t.Run("empty input", func(t *testing.T) {
		s := mock.NewScorer()
		r, err := New(KindModel, s)
		require.NoError(t, err)
		out := r.Rerank(ctx, "q", nil, 5)
		assert.Empty(t, out.Results)
		assert.Equal(t, 0, s.CallCount())
	})
}

func TestHTTPScorer(t *testing.T) {
	t.Setenv("TEST_RERANK_KEY", "secret")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refund policy", req.Query)
		scores := make([]float64, len(req.CandidateTexts))
		for i := range scores {
			scores[i] = float64(i)
		}
		_ = json.NewEncoder(w).Encode(scoreResponse{Scores: scores})
	}))
	defer srv.Close()

	s, err := NewHTTPScorer(srv.URL, "TEST_RERANK_KEY", "bge-reranker", srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "bge-reranker", s.ModelName())

	scores, err := s.Score(context.Background(), "refund policy", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, scores)

	_, err = NewHTTPScorer("", "", "", nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestHTTPScorer_StatusClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewHTTPScorer(srv.URL, "", "", srv.Client())
	require.NoError(t, err)
	_, err = s.Score(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrTransientBackend)
}

func TestJudgeScorer(t *testing.T) {
	gen := mock.NewGenerator()
	gen.GenerateFunc = func(_ context.Context, msgs []domain.Message) (string, error) {
		return "Here you go:\n```json\n[8, 2.5, 10]\n```", nil
	}
	j, err := NewJudgeScorer(gen)
	require.NoError(t, err)
	assert.Equal(t, "judge:mock-generator", j.ModelName())

	scores, err := j.Score(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, 0.25, 1.0}, scores, 1e-9)
	assert.Contains(t, gen.LastMessages()[1].Content, "Passage 3:")
}

func TestParseScores(t *testing.T) {
	_, err := parseScores("I cannot rate these.")
	assert.Error(t, err)

	_, err = parseScores("[1, two]")
	assert.Error(t, err)

	scores, err := parseScores("[0]")
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, scores)
}
