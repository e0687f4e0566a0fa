package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// separatorLevels are tried coarsest first. A boundary is the position right
// after a separator, so trailing whitespace stays with the preceding chunk.
var separatorLevels = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{"; ", ": ", ", "},
	{" ", "\t"},
}

// Options bounds the size of produced chunks, in runes.
type Options struct {
	Size    int
	Overlap int
	MinSize int
	MaxSize int
}

// RecursiveChunker splits prose on the coarsest separator that keeps a chunk
// within its size bounds, falling back to a hard split.
type RecursiveChunker struct {
	opts   Options
	levels [][][]rune
}

// NewRecursiveChunker validates opts and builds a chunker.
func NewRecursiveChunker(opts Options) (*RecursiveChunker, error) {
	switch {
	case opts.Size <= 0:
		return nil, domain.ConfigError("chunk size must be positive, got %d", opts.Size)
	case opts.Overlap < 0 || opts.Overlap >= opts.Size:
		return nil, domain.ConfigError("chunk overlap must be within [0, %d), got %d", opts.Size, opts.Overlap)
	case opts.MinSize < 0 || opts.MinSize > opts.Size:
		return nil, domain.ConfigError("chunk min size must be within [0, %d], got %d", opts.Size, opts.MinSize)
	case opts.MaxSize < opts.Size:
		return nil, domain.ConfigError("chunk max size %d is below target size %d", opts.MaxSize, opts.Size)
	}

	levels := make([][][]rune, len(separatorLevels))
	for i, level := range separatorLevels {
		for _, sep := range level {
			levels[i] = append(levels[i], []rune(sep))
		}
	}
	return &RecursiveChunker{opts: opts, levels: levels}, nil
}

// Chunk splits content into ordered, overlapping chunks of doc.
func (c *RecursiveChunker) Chunk(doc domain.Document, content string) ([]domain.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	text := []rune(content)
	n := len(text)
	var chunks []domain.Chunk
	start := 0

	for start < n {
		end := n
		if n-start > c.opts.Size {
			end = c.boundary(text, start)
		}

		chunks = append(chunks, c.newChunk(doc, len(chunks), text, start, end))
		if end >= n || isBlank(text[end:]) {
			break
		}
		start = c.nextStart(text, start, end)
	}

	return chunks, nil
}

// ChunkWithContext chunks content and pairs each chunk with the source span
// reaching from window chunks before it to window chunks after it.
func (c *RecursiveChunker) ChunkWithContext(doc domain.Document, content string, window int) ([]domain.ContextChunk, error) {
	if window < 0 {
		return nil, domain.ConfigError("context window must not be negative, got %d", window)
	}
	chunks, err := c.Chunk(doc, content)
	if err != nil {
		return nil, err
	}

	text := []rune(content)
	out := make([]domain.ContextChunk, len(chunks))
	for i, ch := range chunks {
		lo := max(0, i-window)
		hi := min(len(chunks)-1, i+window)
		out[i] = domain.ContextChunk{
			Chunk:              ch,
			ContentWithContext: string(text[chunks[lo].StartChar:chunks[hi].EndChar]),
		}
	}
	return out, nil
}

// boundary picks the end of the chunk starting at start.
func (c *RecursiveChunker) boundary(text []rune, start int) int {
	n := len(text)
	lo := start + c.opts.MinSize
	hi := min(start+c.opts.Size, n)

	for _, level := range c.levels {
		for p := hi; p >= lo && p > start; p-- {
			if endsWithAny(text, p, level) {
				return p
			}
		}
	}

	limit := min(start+c.opts.MaxSize, n)
	for _, level := range c.levels {
		for p := hi + 1; p <= limit; p++ {
			if p == n || endsWithAny(text, p, level) {
				return p
			}
		}
	}

	return hi
}

// nextStart backs up at most Overlap runes from end and snaps forward to the
// next word start, so a chunk never begins mid-word.
func (c *RecursiveChunker) nextStart(text []rune, start, end int) int {
	cand := end - c.opts.Overlap
	if cand <= start {
		return end
	}
	for p := cand; p < end; p++ {
		if !unicode.IsSpace(text[p]) && (p == 0 || unicode.IsSpace(text[p-1])) {
			return p
		}
	}
	return end
}

func (c *RecursiveChunker) newChunk(doc domain.Document, index int, text []rune, start, end int) domain.Chunk {
	content := string(text[start:end])

	meta := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[domain.MetaTitle] = doc.Title
	meta[domain.MetaSource] = doc.Source

	return domain.Chunk{
		ID:          generateChunkID(doc.ID, start, end),
		DocID:       doc.ID,
		Index:       index,
		Content:     content,
		StartChar:   start,
		EndChar:     end,
		CharCount:   end - start,
		WordCount:   analyzer.CountWords(content),
		AccessLevel: doc.AccessLevel,
		Metadata:    meta,
	}
}

func endsWithAny(text []rune, p int, seps [][]rune) bool {
	for _, sep := range seps {
		if p < len(sep) {
			continue
		}
		match := true
		for i, r := range sep {
			if text[p-len(sep)+i] != r {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func isBlank(text []rune) bool {
	for _, r := range text {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func generateChunkID(docID string, start, end int) string {
	data := fmt.Sprintf("%s:%d-%d", docID, start, end)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
