package analyzer

import "math"

// BM25 holds the Okapi BM25 parameters.
type BM25 struct {
	K1 float64
	B  float64
}

// DefaultBM25 returns k1=1.2, b=0.75.
func DefaultBM25() BM25 {
	return BM25{K1: 1.2, B: 0.75}
}

// IDF is the inverse document frequency of a term found in df of n passages.
func (p BM25) IDF(n, df int) float64 {
	N := float64(n)
	d := float64(df)
	return math.Log((N-d+0.5)/(d+0.5) + 1)
}

// TermScore scores a single term occurrence count against a passage length.
func (p BM25) TermScore(idf float64, tf, docLen int, avgDocLen float64) float64 {
	if tf == 0 {
		return 0
	}
	if avgDocLen <= 0 {
		avgDocLen = 1
	}
	f := float64(tf)
	dl := float64(docLen)
	return idf * (f * (p.K1 + 1)) / (f + p.K1*(1-p.B+p.B*dl/avgDocLen))
}
