package domain

import "time"

// Document is one ingested source. Chunks reference it by ID.
type Document struct {
	ID          string
	Title       string
	Source      string
	AccessLevel int
	Metadata    map[string]string
	IngestedAt  time.Time
}

// Chunk is an immutable passage of a document. StartChar and EndChar are
// rune offsets into the source text; EndChar is exclusive.
type Chunk struct {
	ID          string            `json:"id"`
	DocID       string            `json:"doc_id"`
	Index       int               `json:"chunk_index"`
	Content     string            `json:"content"`
	StartChar   int               `json:"start_char"`
	EndChar     int               `json:"end_char"`
	CharCount   int               `json:"char_count"`
	WordCount   int               `json:"word_count"`
	AccessLevel int               `json:"access_level"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Metadata keys set on every chunk at ingestion.
const (
	MetaTitle  = "title"
	MetaSource = "source"
)

// Title returns the title of the chunk's document.
func (c Chunk) Title() string { return c.Metadata[MetaTitle] }

// Source returns the source locator of the chunk's document.
func (c Chunk) Source() string { return c.Metadata[MetaSource] }

// ContextChunk pairs a chunk with the neighbouring text used for embedding.
type ContextChunk struct {
	Chunk              Chunk
	ContentWithContext string
}

// AccessFilter restricts which chunks a caller may see. It is pushed into
// datastore queries, never applied to results afterwards.
type AccessFilter struct {
	MaxAccessLevel int
	DocIDs         []string
}

// Allows reports whether the chunk is visible under the filter.
func (f AccessFilter) Allows(c Chunk) bool {
	if c.AccessLevel > f.MaxAccessLevel {
		return false
	}
	if len(f.DocIDs) == 0 {
		return true
	}
	for _, id := range f.DocIDs {
		if id == c.DocID {
			return true
		}
	}
	return false
}

// ScoredChunk is a single datastore hit with its raw leg score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Leg names a retrieval leg.
type Leg string

const (
	LegDense  Leg = "dense"
	LegSparse Leg = "sparse"
)

// LegHit is one entry of a leg's ordered result list. Rank is 1-based.
type LegHit struct {
	Chunk    Chunk
	Rank     int
	RawScore float64
}

// LegResult is one leg's ordered output.
type LegResult struct {
	Leg  Leg
	Hits []LegHit
}

// NewLegResult assigns 1-based ranks to hits in the order given.
func NewLegResult(leg Leg, hits []ScoredChunk) LegResult {
	res := LegResult{Leg: leg, Hits: make([]LegHit, len(hits))}
	for i, h := range hits {
		res.Hits[i] = LegHit{Chunk: h.Chunk, Rank: i + 1, RawScore: h.Score}
	}
	return res
}

// FusedCandidate is a chunk after reciprocal rank fusion.
type FusedCandidate struct {
	Chunk      Chunk
	FusedScore float64
	Legs       []Leg
	LegRanks   map[Leg]int
}

// RankedResult is a fused candidate after optional reranking.
// RerankScore is nil when reranking was skipped or failed.
type RankedResult struct {
	FusedCandidate
	RerankScore *float64
}

// FinalScore is the rerank score when present, otherwise the fused score.
func (r RankedResult) FinalScore() float64 {
	if r.RerankScore != nil {
		return *r.RerankScore
	}
	return r.FusedScore
}

// Reranked is the output of a reranker.
type Reranked struct {
	Results  []RankedResult
	Applied  bool
	Degraded bool
}

// LegReport describes how one leg fared during a retrieval.
type LegReport struct {
	Leg      Leg
	Hits     int
	Duration time.Duration
	Err      error
}

// Retrieval is the outcome of one hybrid search.
type Retrieval struct {
	Candidates  []FusedCandidate
	Legs        []LegReport
	Degraded    bool
	EmbeddingMS float64
	SearchMS    float64
}

// Message is one chat message sent to a generator backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Stage is a step of the answer lifecycle.
type Stage string

const (
	StageEmbedding  Stage = "embedding"
	StageRetrieving Stage = "retrieving"
	StageReranking  Stage = "reranking"
	StageGenerating Stage = "generating"
	StageDone       Stage = "done"
	StageAborted    Stage = "aborted"
)

// AnswerStatus is the explicit outcome flag of an Answer.
type AnswerStatus string

const (
	StatusOK                   AnswerStatus = "ok"
	StatusNoResults            AnswerStatus = "no_results"
	StatusGenerationFailed     AnswerStatus = "generation_failed"
	StatusRetrievalUnavailable AnswerStatus = "retrieval_unavailable"
	StatusAborted              AnswerStatus = "aborted"
)

// PerformanceMetrics holds per-stage latency in milliseconds. Nil pointers
// mark stages that did not run.
type PerformanceMetrics struct {
	EmbeddingMS  float64  `json:"embedding_ms"`
	SearchMS     float64  `json:"search_ms"`
	RerankMS     *float64 `json:"rerank_ms"`
	GenerationMS *float64 `json:"generation_ms"`
	TotalMS      float64  `json:"total_ms"`
}

// Citation references a source passage backing an answer.
type Citation struct {
	Index          int               `json:"index"`
	Title          string            `json:"title"`
	Source         string            `json:"source"`
	ContentPreview string            `json:"content_preview"`
	Score          float64           `json:"score"`
	Metadata       map[string]string `json:"metadata"`
}

// Answer is the result of one RAG request.
type Answer struct {
	RequestID     string
	Query         string
	Text          string
	Status        AnswerStatus
	Degraded      bool
	Sources       []Citation
	Model         *string
	DocumentsUsed int
	Performance   PerformanceMetrics
	Stage         Stage
	Error         string
}

// Stats summarises a datastore's contents.
type Stats struct {
	TotalDocs   int
	TotalChunks int
	AvgChunkLen float64
}

// Posting is one term occurrence entry in the lexical index.
type Posting struct {
	ChunkID string
	TF      int
}

// DurationMS converts d to fractional milliseconds.
func DurationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
