package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

func testChunker(t *testing.T) *RecursiveChunker {
	t.Helper()
	c, err := NewRecursiveChunker(Options{Size: 200, Overlap: 30, MinSize: 60, MaxSize: 300})
	require.NoError(t, err)
	return c
}

func testDoc() domain.Document {
	return domain.Document{
		ID:          "doc1",
		Title:       "Refund Policy",
		Source:      "kb/refunds.md",
		AccessLevel: 1,
		Metadata:    map[string]string{"lang": "en"},
	}
}

// longText builds deterministic prose with paragraphs, sentences and clauses.
func longText(paragraphs int) string {
	var b strings.Builder
	for p := 0; p < paragraphs; p++ {
		for s := 0; s < 6; s++ {
			fmt.Fprintf(&b, "Sentence %d of paragraph %d explains refunds, returns; and exchanges for order %d. ", s, p, p*10+s)
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func TestRecursiveChunker_Bounds(t *testing.T) {
	c := testChunker(t)
	text := longText(12)
	require.Greater(t, len([]rune(text)), 300)

	chunks, err := c.Chunk(testDoc(), text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks[:len(chunks)-1] {
		assert.GreaterOrEqual(t, ch.CharCount, 60, "chunk %d too small", i)
		assert.LessOrEqual(t, ch.CharCount, 300, "chunk %d too large", i)
	}
	assert.LessOrEqual(t, chunks[len(chunks)-1].CharCount, 300)
}

func TestRecursiveChunker_Contiguity(t *testing.T) {
	c := testChunker(t)
	chunks, err := c.Chunk(testDoc(), longText(8))
	require.NoError(t, err)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "doc1", ch.DocID)
		if i > 0 {
			assert.Greater(t, ch.StartChar, chunks[i-1].StartChar)
		}
	}
}

func TestRecursiveChunker_Coverage(t *testing.T) {
	c := testChunker(t)
	text := longText(8)
	runes := []rune(text)

	chunks, err := c.Chunk(testDoc(), text)
	require.NoError(t, err)

	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].EndChar)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartChar, chunks[i-1].EndChar, "gap before chunk %d", i)
	}
	for _, ch := range chunks {
		assert.Equal(t, string(runes[ch.StartChar:ch.EndChar]), ch.Content)
	}
}

func TestRecursiveChunker_OverlapBounded(t *testing.T) {
	c := testChunker(t)
	chunks, err := c.Chunk(testDoc(), longText(8))
	require.NoError(t, err)

	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].EndChar - chunks[i].StartChar
		assert.LessOrEqual(t, overlap, 30)
		assert.GreaterOrEqual(t, overlap, 0)
	}
}

func TestRecursiveChunker_PrefersSeparators(t *testing.T) {
	c := testChunker(t)
	chunks, err := c.Chunk(testDoc(), longText(8))
	require.NoError(t, err)

	for _, ch := range chunks[:len(chunks)-1] {
		last := []rune(ch.Content)
		assert.True(t, unicode.IsSpace(last[len(last)-1]), "chunk should end on a separator: %q", ch.Content)
	}
}

func TestRecursiveChunker_Determinism(t *testing.T) {
	c := testChunker(t)
	text := longText(10)

	first, err := c.Chunk(testDoc(), text)
	require.NoError(t, err)
	second, err := c.Chunk(testDoc(), text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecursiveChunker_EmptyAndShort(t *testing.T) {
	c := testChunker(t)

	t.Run("empty", func(t *testing.T) {
		chunks, err := c.Chunk(testDoc(), "")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("whitespace only", func(t *testing.T) {
		chunks, err := c.Chunk(testDoc(), "  \n\n\t ")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("shorter than size", func(t *testing.T) {
		chunks, err := c.Chunk(testDoc(), "Refunds are processed within 30 days.")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		ch := chunks[0]
		assert.Equal(t, "Refunds are processed within 30 days.", ch.Content)
		assert.Equal(t, 6, ch.WordCount)
		assert.Equal(t, "Refund Policy", ch.Title())
		assert.Equal(t, "kb/refunds.md", ch.Source())
		assert.Equal(t, "en", ch.Metadata["lang"])
		assert.Equal(t, 1, ch.AccessLevel)
	})
}

func TestRecursiveChunker_HardSplit(t *testing.T) {
	c := testChunker(t)
	text := strings.Repeat("x", 650)

	chunks, err := c.Chunk(testDoc(), text)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for _, ch := range chunks[:3] {
		assert.Equal(t, 200, ch.CharCount)
	}
	assert.Equal(t, 50, chunks[3].CharCount)
}

func TestRecursiveChunker_RuneOffsets(t *testing.T) {
	c, err := NewRecursiveChunker(Options{Size: 10, Overlap: 0, MinSize: 2, MaxSize: 12})
	require.NoError(t, err)

	text := "héllo wörld ünïcode tëxt"
	chunks, err := c.Chunk(testDoc(), text)
	require.NoError(t, err)

	runes := []rune(text)
	for _, ch := range chunks {
		assert.Equal(t, string(runes[ch.StartChar:ch.EndChar]), ch.Content)
		assert.Equal(t, len([]rune(ch.Content)), ch.CharCount)
	}
}

func TestRecursiveChunker_ChunkWithContext(t *testing.T) {
	c := testChunker(t)
	text := longText(6)
	runes := []rune(text)

	plain, err := c.Chunk(testDoc(), text)
	require.NoError(t, err)
	withCtx, err := c.ChunkWithContext(testDoc(), text, 1)
	require.NoError(t, err)
	require.Len(t, withCtx, len(plain))

	for i, cc := range withCtx {
		assert.Equal(t, plain[i], cc.Chunk, "display content must not change")
		lo := max(0, i-1)
		hi := min(len(plain)-1, i+1)
		assert.Equal(t, string(runes[plain[lo].StartChar:plain[hi].EndChar]), cc.ContentWithContext)
		assert.Contains(t, cc.ContentWithContext, cc.Chunk.Content)
	}

	zero, err := c.ChunkWithContext(testDoc(), text, 0)
	require.NoError(t, err)
	for _, cc := range zero {
		assert.Equal(t, cc.Chunk.Content, cc.ContentWithContext)
	}

	_, err = c.ChunkWithContext(testDoc(), text, -1)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestNewRecursiveChunker_Validation(t *testing.T) {
	cases := []Options{
		{Size: 0, Overlap: 0, MinSize: 0, MaxSize: 10},
		{Size: 100, Overlap: 100, MinSize: 10, MaxSize: 200},
		{Size: 100, Overlap: 10, MinSize: 150, MaxSize: 200},
		{Size: 100, Overlap: 10, MinSize: 10, MaxSize: 50},
	}
	for _, opts := range cases {
		_, err := NewRecursiveChunker(opts)
		assert.True(t, errors.Is(err, domain.ErrConfiguration), "opts %+v", opts)
	}
}
