package engine

import (
	"fmt"
	"sort"
)

// PackBands assigns scored chunks to bands under the resolved budget.
// Chunks are taken in effective-score order (stable on input order for
// ties). A chunk's recommended band caps how high it may be placed: Band A
// candidates overflow to B, Band B candidates overflow to C, and anything
// that fits nowhere is dropped, which is valid output rather than an error.
// Band C carries only the chunk's extracted facts and compressed embedding.
func PackBands(scored []ScoredChunk, chunks []Chunk, derived map[string]BandCEntry, budget Budget) ContextPack {
	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scored[order[a]].EffectiveScore() > scored[order[b]].EffectiveScore()
	})

	pack := ContextPack{
		BudgetUsage: BudgetUsage{
			BandA: BandUsage{Limit: budget.BandA},
			BandB: BandUsage{Limit: budget.BandB},
			BandC: BandUsage{Limit: budget.BandC},
		},
	}

	for _, idx := range order {
		sc := scored[idx]
		chunk, ok := byID[sc.ChunkID]
		if !ok {
			continue
		}
		textCost := estimateTokens(chunk.Text)

		if sc.RecommendedBand == BandA {
			if pack.BudgetUsage.BandA.UsedBudget+textCost <= budget.BandA {
				pack.BandA = append(pack.BandA, annotate(chunk, sc, BandA))
				pack.BudgetUsage.BandA.UsedBudget += textCost
				continue
			}
		}
		if sc.RecommendedBand <= BandB {
			if pack.BudgetUsage.BandB.UsedBudget+textCost <= budget.BandB {
				pack.BandB = append(pack.BandB, annotate(chunk, sc, BandB))
				pack.BudgetUsage.BandB.UsedBudget += textCost
				continue
			}
		}

		entry, ok := derived[sc.ChunkID]
		if !ok {
			continue
		}
		entry.ChunkID = sc.ChunkID
		cCost := bandCEntryCost(entry)
		if pack.BudgetUsage.BandC.UsedBudget+cCost <= budget.BandC {
			pack.BandC = append(pack.BandC, entry)
			pack.BudgetUsage.BandC.UsedBudget += cCost
		}
	}
	return pack
}

// annotate attaches derived scoring annotations to the chunk copy placed in
// a band; the caller's original chunk is never mutated.
func annotate(chunk Chunk, sc ScoredChunk, band ContextBand) Chunk {
	meta := make(map[string]string, len(chunk.Metadata)+2)
	for k, v := range chunk.Metadata {
		meta[k] = v
	}
	meta["refrag.band"] = band.String()
	meta["refrag.score"] = fmt.Sprintf("%.4f", sc.EffectiveScore())
	chunk.Metadata = meta
	return chunk
}

// bandCEntryCost prices a compressed entry: the fact payloads at the normal
// token rate plus one token per four compressed dimensions.
func bandCEntryCost(entry BandCEntry) int {
	cost := entry.Compressed.Metadata.CompressedDimensions / 4
	for _, fact := range entry.Facts {
		cost += estimateTokens(fact.Context)
	}
	if cost < 1 {
		cost = 1
	}
	return cost
}

// estimateTokens is the single token-accounting unit for every band: a
// rune-count estimate of roughly 2.5 runes per token with a floor of 8 for
// non-empty content.
func estimateTokens(content string) int {
	runes := len([]rune(content))
	if runes == 0 {
		return 0
	}
	tokens := runes * 2 / 5
	if tokens < 8 {
		return 8
	}
	return tokens
}
