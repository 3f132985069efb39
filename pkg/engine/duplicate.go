package engine

import (
	"sort"
	"strings"
)

const (
	// duplicateEmbeddingSimilarity is the raw cosine above which two chunk
	// embeddings count as near-identical content.
	duplicateEmbeddingSimilarity = 0.95
	duplicationPenalty           = 0.30
)

// ApplyDuplicationPenalties runs a second pass over scored chunks and
// penalizes the later-ranked member of every near-duplicate pair. The
// higher-scored chunk keeps a zero penalty, so the packer spends budget on
// each piece of content at most once. Input order of the returned slice
// matches the input.
func ApplyDuplicationPenalties(scored []ScoredChunk, chunks []Chunk) []ScoredChunk {
	if len(scored) < 2 {
		return scored
	}

	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	// Rank by raw score descending, stable on input order for ties.
	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scored[order[a]].Score > scored[order[b]].Score
	})

	out := append([]ScoredChunk(nil), scored...)
	for i := 1; i < len(order); i++ {
		later := order[i]
		laterChunk, ok := byID[out[later].ChunkID]
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			earlier := order[j]
			if out[earlier].Components.DuplicationPenalty > 0 {
				continue
			}
			earlierChunk, ok := byID[out[earlier].ChunkID]
			if !ok {
				continue
			}
			if isNearDuplicate(earlierChunk, laterChunk) {
				out[later].Components.DuplicationPenalty = duplicationPenalty
				break
			}
		}
	}
	return out
}

func isNearDuplicate(a, b Chunk) bool {
	if strings.TrimSpace(a.Text) == strings.TrimSpace(b.Text) {
		return true
	}
	if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return false
	}
	return cosineSimilarity(a.Embedding, b.Embedding) >= duplicateEmbeddingSimilarity
}
