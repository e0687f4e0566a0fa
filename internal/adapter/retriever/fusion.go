package retriever

import (
	"sort"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// DefaultRRFK is the customary reciprocal rank fusion constant.
const DefaultRRFK = 60

// FuseRRF combines leg rankings with reciprocal rank fusion.
//
// A chunk at 1-based rank r in a leg contributes 1/(k+r); its fused score is
// the sum over the legs it appears in. The result is ordered by fused score
// descending, then chunk index, doc id and chunk id ascending, so identical
// inputs always yield the identical order. Nothing is truncated here.
func FuseRRF(k int, legs ...domain.LegResult) ([]domain.FusedCandidate, error) {
	if k <= 0 {
		return nil, domain.ConfigError("rrf constant must be positive, got %d", k)
	}

	byID := make(map[string]*domain.FusedCandidate)
	var order []string

	for _, leg := range legs {
		for _, hit := range leg.Hits {
			id := hit.Chunk.ID
			fc, ok := byID[id]
			if !ok {
				fc = &domain.FusedCandidate{Chunk: hit.Chunk, LegRanks: make(map[domain.Leg]int)}
				byID[id] = fc
				order = append(order, id)
			}
			if _, seen := fc.LegRanks[leg.Leg]; seen {
				// a leg counts once per chunk, at its best rank
				continue
			}
			fc.LegRanks[leg.Leg] = hit.Rank
			fc.Legs = append(fc.Legs, leg.Leg)
			fc.FusedScore += 1.0 / float64(k+hit.Rank)
		}
	}

	fused := make([]domain.FusedCandidate, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}

	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.Chunk.Index != b.Chunk.Index {
			return a.Chunk.Index < b.Chunk.Index
		}
		if a.Chunk.DocID != b.Chunk.DocID {
			return a.Chunk.DocID < b.Chunk.DocID
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	return fused, nil
}
