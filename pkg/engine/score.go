package engine

import (
	"math"
	"time"
)

// ScoreWeights are the blend weights for the four scoring axes. Similarity
// must carry the largest weight; DomainBonus is a flat additive bonus, never
// a multiplier, so it can only raise a chunk above its similarity baseline.
type ScoreWeights struct {
	Similarity  float64
	Freshness   float64
	Diversity   float64
	DomainBonus float64
}

// DefaultScoreWeights returns the standard blend. Tuning these is an
// operational knob, not a code change.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Similarity:  0.55,
		Freshness:   0.20,
		Diversity:   0.15,
		DomainBonus: 0.10,
	}
}

// ScoreOptions configures one scoring pass. Zero fields are back-filled
// with defaults.
type ScoreOptions struct {
	Weights           ScoreWeights
	Now               time.Time
	FreshnessHalfLife time.Duration

	// BandAHighRisk is the similarity floor routing a chunk to Band A when
	// the query is high or critical risk.
	BandAHighRisk float64
	// BandALowRisk is the stricter similarity floor for lower-risk queries,
	// conserving Band A budget when full fidelity matters less.
	BandALowRisk float64
	// BandBFloor is the minimum blended score for Band B; below it a chunk
	// is recommended for Band C.
	BandBFloor float64
}

func (o ScoreOptions) withDefaults() ScoreOptions {
	zero := ScoreWeights{}
	if o.Weights == zero {
		o.Weights = DefaultScoreWeights()
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.FreshnessHalfLife <= 0 {
		o.FreshnessHalfLife = 14 * 24 * time.Hour
	}
	if o.BandAHighRisk <= 0 {
		o.BandAHighRisk = 0.85
	}
	if o.BandALowRisk <= 0 {
		o.BandALowRisk = 0.93
	}
	if o.BandBFloor <= 0 {
		o.BandBFloor = 0.40
	}
	return o
}

// ScoreChunks computes the multi-axis relevance score and band
// recommendation for every chunk. Chunks are processed in input order; the
// diversity axis measures distance from the running centroid of the chunks
// already seen, so earlier chunks never lose diversity to later ones.
func ScoreChunks(chunks []Chunk, queryEmbedding []float32, guard QueryGuardResult, opts ScoreOptions) []ScoredChunk {
	opts = opts.withDefaults()
	if len(chunks) == 0 {
		return nil
	}

	mandatoryDomains := map[string]struct{}{}
	for _, hint := range guard.ExpansionHints {
		if hint.Mandatory && hint.Type == "domain" {
			mandatoryDomains[hint.Value] = struct{}{}
		}
	}
	guardDomains := map[string]struct{}{}
	for _, d := range guard.Metadata.DetectedDomains {
		guardDomains[d] = struct{}{}
	}

	var centroid []float32
	seen := 0

	out := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		similarity := (cosineSimilarity(queryEmbedding, chunk.Embedding) + 1) / 2
		freshness := freshnessWeight(opts.Now, chunk.UpdatedAt, opts.FreshnessHalfLife)
		diversity := diversityWeight(centroid, seen, chunk.Embedding)

		bonus := 0.0
		if domainMatches(chunk.Domains, guardDomains, mandatoryDomains) {
			bonus = opts.Weights.DomainBonus
		}

		score := opts.Weights.Similarity*similarity +
			opts.Weights.Freshness*freshness +
			opts.Weights.Diversity*diversity +
			bonus

		out = append(out, ScoredChunk{
			ChunkID: chunk.ID,
			Score:   score,
			Components: ScoreComponents{
				Similarity:  similarity,
				Freshness:   freshness,
				Diversity:   diversity,
				DomainBonus: bonus,
			},
			RecommendedBand: recommendBand(guard.RiskClass, similarity, score, opts),
		})

		centroid = foldIntoCentroid(centroid, chunk.Embedding)
		seen++
	}
	return out
}

// freshnessWeight decays exponentially with age: a chunk updated now scores
// 1.0 and every half-life halves the weight.
func freshnessWeight(now, updatedAt time.Time, halfLife time.Duration) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := now.Sub(updatedAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}

// diversityWeight is the cosine distance from the running centroid of
// previously scored chunks, normalized to [0,1]. The first chunk always
// scores 1.
func diversityWeight(centroid []float32, seen int, embedding []float32) float64 {
	if seen == 0 || len(centroid) == 0 || len(embedding) == 0 {
		return 1
	}
	mean := make([]float32, len(centroid))
	inv := float32(1) / float32(seen)
	for i, v := range centroid {
		mean[i] = v * inv
	}
	normalizeVector(mean)
	distance := 1 - cosineSimilarity(mean, embedding)
	if distance < 0 {
		distance = 0
	}
	if distance > 2 {
		distance = 2
	}
	return distance / 2
}

// foldIntoCentroid accumulates the running embedding sum; diversityWeight
// divides it back down by the count.
func foldIntoCentroid(centroid, embedding []float32) []float32 {
	if len(embedding) == 0 {
		return centroid
	}
	if centroid == nil {
		centroid = make([]float32, len(embedding))
	}
	n := len(centroid)
	if len(embedding) < n {
		n = len(embedding)
	}
	for i := 0; i < n; i++ {
		centroid[i] += embedding[i]
	}
	return centroid
}

func domainMatches(chunkDomains []string, guardDomains, mandatoryDomains map[string]struct{}) bool {
	for _, d := range chunkDomains {
		if _, ok := guardDomains[d]; ok {
			return true
		}
		if _, ok := mandatoryDomains[d]; ok {
			return true
		}
	}
	return false
}

// recommendBand biases top-scoring content toward Band A as risk rises:
// risky answers need full-fidelity grounding, cheap answers can live with
// Band B text.
func recommendBand(class RiskClass, similarity, score float64, opts ScoreOptions) ContextBand {
	aFloor := opts.BandALowRisk
	if class >= RiskHigh {
		aFloor = opts.BandAHighRisk
	}
	if similarity >= aFloor {
		return BandA
	}
	if score >= opts.BandBFloor {
		return BandB
	}
	return BandC
}
