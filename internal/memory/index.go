package memory

import (
	"math"
	"sort"
)

// flatIndex is an immutable snapshot of one user's records, searchable
// by cosine similarity. A *flatIndex is never mutated after construction;
// RebuildIndex builds a new one and swaps the published pointer, so
// readers holding an old snapshot finish safely (spec.md §4.4).
type flatIndex struct {
	records []*Record
}

// buildFlatIndex copies records into a new immutable snapshot. The
// caller's slice may be reused/mutated afterward.
func buildFlatIndex(records []*Record) *flatIndex {
	cp := make([]*Record, len(records))
	copy(cp, records)
	return &flatIndex{records: cp}
}

// scored pairs a record with its similarity to a query vector.
type scored struct {
	record *Record
	score  float32
}

// search returns the top-k records by cosine similarity to query,
// restricted to kinds (nil/empty means all kinds). Ownership filtering
// happens before this is called, since a flatIndex is already per-user.
func (idx *flatIndex) search(query []float32, k int, kinds map[Kind]bool) []Record {
	if idx == nil || k <= 0 {
		return nil
	}
	candidates := make([]scored, 0, len(idx.records))
	for _, r := range idx.records {
		if len(kinds) > 0 && !kinds[r.Kind] {
			continue
		}
		candidates = append(candidates, scored{record: r, score: cosineSimilarity(query, r.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Record, len(candidates))
	for i, c := range candidates {
		out[i] = *c.record
	}
	return out
}

// cosineSimilarity returns 0 for mismatched dimensions or zero vectors
// rather than erroring: a malformed embedding should rank last, not
// crash a search.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
