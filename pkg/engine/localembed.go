package engine

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// LocalEmbedder is a deterministic character-trigram embedder. It exists so
// the engine works without a remote embedding service and so tests have a
// stable vector space; production hosts swap in a real Embedder.
type LocalEmbedder struct {
	dims    int
	modelID string
}

const localEmbeddingModel = "refrag-chargram-384-v1"

var embedTokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// NewLocalEmbedder returns the default 384-dimension trigram embedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dims: 384, modelID: localEmbeddingModel}
}

func (e *LocalEmbedder) ModelID() string { return e.modelID }

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec, nil
	}
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		gram := window[i : i+3]
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx]++
	}
	for _, token := range embedTokenPattern.FindAllString(normalized, -1) {
		h := fnv.New64a()
		_, _ = h.Write([]byte("tok:" + token))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx] += 1.25
	}
	normalizeVector(vec)
	return vec, nil
}

// EmbedBatch embeds each text individually so batch output is always
// element-wise identical to Embed.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

func normalizeVector(vec []float32) {
	n := vectorNorm(vec)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}

// cosineSimilarity assumes unit-normalized inputs and tolerates mismatched
// lengths by comparing the shared prefix.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i] * b[i])
	}
	return dot
}
