package analyzer

import (
	"math"
	"testing"
)

func TestTokenizer_Tokenize(t *testing.T) {
	tok := NewTokenizer()

	tokens := tok.Tokenize("running dogs are playing")
	if len(tokens) != 3 {
		t.Errorf("expected 3 tokens, got %d: %v", len(tokens), tokens)
	}

	hasRunning := false
	for _, token := range tokens {
		if token == "running" {
			hasRunning = true
		}
	}
	if !hasRunning {
		t.Errorf("expected 'running' to be kept verbatim, got %v", tokens)
	}
}

func TestTokenizer_StopwordRemoval(t *testing.T) {
	tok := NewTokenizer()

	tokens := tok.Tokenize("the quick brown fox")
	for _, token := range tokens {
		if token == "the" {
			t.Errorf("stopword 'the' should be removed, got %v", tokens)
		}
	}
}

func TestTokenizer_ShortWordRemoval(t *testing.T) {
	tok := NewTokenizer()

	tokens := tok.Tokenize("a I go to")
	for _, token := range tokens {
		if len(token) < 2 {
			t.Errorf("short word should be removed: %s", token)
		}
	}
}

func TestTokenizer_TermFrequencies(t *testing.T) {
	tok := NewTokenizer()

	tf, n := tok.TermFrequencies("Refund policy: refunds within 30 days. Refund requests by email.")
	if tf["refund"] != 2 {
		t.Errorf("expected refund tf 2, got %d", tf["refund"])
	}
	if n == 0 {
		t.Error("expected non-zero length")
	}
}

func TestTokenizer_CountTokens(t *testing.T) {
	tok := NewTokenizer()

	count := tok.CountTokens("hello world this is a test")
	if count < 6 {
		t.Errorf("expected count >= 6 words, got %d", count)
	}
	if tok.CountTokens("") != 0 {
		t.Error("expected 0 count for empty input")
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"hello world", 2},
		{"hello_world", 1},
		{"hello-world", 2},
		{"func(x, y)", 3},
		{"123numbers456", 1},
		{"naïve café", 2},
	}

	for _, tt := range tests {
		words := splitWords(tt.input)
		if len(words) != tt.expected {
			t.Errorf("splitWords(%q) = %d words, want %d: %v", tt.input, len(words), tt.expected, words)
		}
	}
}

func TestBM25_TermScore(t *testing.T) {
	p := DefaultBM25()
	idf := p.IDF(10, 2)
	if idf <= 0 {
		t.Fatalf("expected positive idf, got %f", idf)
	}
	short := p.TermScore(idf, 1, 5, 10)
	long := p.TermScore(idf, 1, 40, 10)
	if short <= long {
		t.Errorf("shorter passage should score higher: %f <= %f", short, long)
	}
	if p.TermScore(idf, 0, 5, 10) != 0 {
		t.Error("zero tf must score zero")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(s-1) > 1e-9 {
		t.Errorf("identical vectors should have similarity 1, got %f", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(s) > 1e-9 {
		t.Errorf("orthogonal vectors should have similarity 0, got %f", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); s != 0 {
		t.Errorf("mismatched lengths should score 0, got %f", s)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("identical vectors should have distance 0, got %f", d)
	}
}
