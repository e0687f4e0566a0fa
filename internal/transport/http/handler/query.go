package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/transport/http/middleware"
	"github.com/mazi76erX2/vault-sub000/internal/transport/http/response"
	"github.com/mazi76erX2/vault-sub000/internal/usecase"
)

// Answerer is the orchestrator surface the handlers need.
type Answerer interface {
	Answer(ctx context.Context, req usecase.AnswerRequest) (*domain.Answer, error)
	Search(ctx context.Context, req usecase.AnswerRequest) (*usecase.SearchResult, error)
}

type QueryHandler struct {
	answerer Answerer
}

type QueryRequest struct {
	Query       string   `json:"query" binding:"required"`
	TopK        int      `json:"top_k" binding:"min=0,max=100"`
	AccessLevel int      `json:"access_level" binding:"min=0"`
	DocumentIDs []string `json:"document_ids"`
}

type Source struct {
	Index          int               `json:"index"`
	Title          string            `json:"title"`
	Source         string            `json:"source"`
	ContentPreview string            `json:"content_preview"`
	Score          float64           `json:"score"`
	Metadata       map[string]string `json:"metadata"`
}

type QueryResponse struct {
	Answer        string                    `json:"answer"`
	Query         string                    `json:"query"`
	Sources       []Source                  `json:"sources"`
	Model         *string                   `json:"model"`
	DocumentsUsed int                       `json:"documents_used"`
	Performance   domain.PerformanceMetrics `json:"performance"`
	Status        domain.AnswerStatus       `json:"status"`
	Degraded      bool                      `json:"degraded"`
	RequestID     string                    `json:"request_id"`
}

type SearchHit struct {
	ChunkID     string            `json:"chunk_id"`
	DocID       string            `json:"doc_id"`
	ChunkIndex  int               `json:"chunk_index"`
	Title       string            `json:"title"`
	Source      string            `json:"source"`
	Content     string            `json:"content"`
	FusedScore  float64           `json:"fused_score"`
	RerankScore *float64          `json:"rerank_score"`
	Legs        []domain.Leg      `json:"legs"`
	Metadata    map[string]string `json:"metadata"`
}

type SearchResponse struct {
	Results     []SearchHit               `json:"results"`
	Degraded    bool                      `json:"degraded"`
	Performance domain.PerformanceMetrics `json:"performance"`
	RequestID   string                    `json:"request_id"`
}

func NewQueryHandler(answerer Answerer) *QueryHandler {
	return &QueryHandler{answerer: answerer}
}

func (h *QueryHandler) Query(c *gin.Context) {
	requestID := middleware.GetRequestID(c)
	req, ok := bindQuery(c, requestID)
	if !ok {
		return
	}

	ans, err := h.answerer.Answer(c.Request.Context(), req)
	if err != nil {
		status, code := response.FromError(err)
		response.Error(c, status, code, err.Error(), requestID)
		return
	}

	c.JSON(http.StatusOK, NewQueryResponse(ans))
}

func (h *QueryHandler) Search(c *gin.Context) {
	requestID := middleware.GetRequestID(c)
	req, ok := bindQuery(c, requestID)
	if !ok {
		return
	}

	res, err := h.answerer.Search(c.Request.Context(), req)
	if err != nil {
		status, code := response.FromError(err)
		response.Error(c, status, code, err.Error(), requestID)
		return
	}

	c.JSON(http.StatusOK, NewSearchResponse(res))
}

func bindQuery(c *gin.Context, requestID string) (usecase.AnswerRequest, bool) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidQuery, "invalid request payload", requestID)
		return usecase.AnswerRequest{}, false
	}
	return usecase.AnswerRequest{
		RequestID: requestID,
		Query:     req.Query,
		TopK:      req.TopK,
		Filter: domain.AccessFilter{
			MaxAccessLevel: req.AccessLevel,
			DocIDs:         req.DocumentIDs,
		},
	}, true
}

// NewQueryResponse renders an answer as the query endpoint body.
func NewQueryResponse(ans *domain.Answer) QueryResponse {
	out := QueryResponse{
		Answer:        ans.Text,
		Query:         ans.Query,
		Sources:       make([]Source, len(ans.Sources)),
		Model:         ans.Model,
		DocumentsUsed: ans.DocumentsUsed,
		Performance:   ans.Performance,
		Status:        ans.Status,
		Degraded:      ans.Degraded,
		RequestID:     ans.RequestID,
	}
	for i, s := range ans.Sources {
		out.Sources[i] = Source(s)
	}
	return out
}

// NewSearchResponse renders retrieval results as the search endpoint body.
func NewSearchResponse(res *usecase.SearchResult) SearchResponse {
	out := SearchResponse{
		Results:     make([]SearchHit, len(res.Results)),
		Degraded:    res.Degraded,
		Performance: res.Performance,
		RequestID:   res.RequestID,
	}
	for i, r := range res.Results {
		out.Results[i] = SearchHit{
			ChunkID:     r.Chunk.ID,
			DocID:       r.Chunk.DocID,
			ChunkIndex:  r.Chunk.Index,
			Title:       r.Chunk.Title(),
			Source:      r.Chunk.Source(),
			Content:     r.Chunk.Content,
			FusedScore:  r.FusedScore,
			RerankScore: r.RerankScore,
			Legs:        r.Legs,
			Metadata:    r.Chunk.Metadata,
		}
	}
	return out
}
