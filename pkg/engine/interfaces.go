package engine

import "context"

// Embedder produces vectors in a single shared space for queries and chunks.
// EmbedBatch(texts)[i] must equal Embed(texts[i]) for every i.
type Embedder interface {
	ModelID() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// StoreFilters narrows a candidate query against the chunk store.
type StoreFilters struct {
	Sources []string
	Domains []string
	Limit   int
}

// Store returns candidate chunks for a query embedding. An empty result is
// valid output, not an error.
type Store interface {
	Query(ctx context.Context, embedding []float32, filters StoreFilters) ([]Chunk, error)
}

// Generator produces the final answer from the assembled context.
type Generator interface {
	Generate(ctx context.Context, query string, pack ContextPack) (Generation, error)
}

// Metrics receives counter/gauge observations from the pipeline.
// Implementations must be safe for concurrent use.
type Metrics interface {
	Add(metric string, value float64, labels map[string]string)
}

type nopMetrics struct{}

func (nopMetrics) Add(string, float64, map[string]string) {}
