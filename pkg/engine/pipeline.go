package engine

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PipelineConfig tunes one pipeline instance. Zero fields are back-filled
// with defaults at construction.
type PipelineConfig struct {
	BudgetProfile   string
	BudgetOverrides map[RiskClass]BudgetOverride
	ScoreOptions    ScoreOptions
	FactConfig      FactConfig
	CompressDim     int
	CandidateLimit  int
	CacheSize       int
}

// Pipeline composes the engine stages around the three external
// collaborators. Instances are safe for concurrent Process calls: all
// per-query state lives on the stack and the derived-data cache is
// concurrency-safe.
type Pipeline struct {
	cfg       PipelineConfig
	embedder  Embedder
	store     Store
	generator Generator
	compress  Compressor
	metrics   Metrics

	// derivedCache memoizes per-chunk facts and compressed embeddings,
	// keyed by content hash, so re-retrieved chunks skip re-extraction.
	derivedCache *lru.Cache[string, BandCEntry]
}

// NewPipeline wires the engine around its collaborators. Every collaborator
// is required; configuration gaps fall back to defaults.
func NewPipeline(cfg PipelineConfig, embedder Embedder, store Store, generator Generator) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pipeline embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline store is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("pipeline generator is required")
	}
	if cfg.CompressDim <= 0 {
		cfg.CompressDim = 64
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 64
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.FactConfig.ConfidenceThreshold <= 0 {
		cfg.FactConfig = DefaultFactConfig()
	}

	cache, err := lru.New[string, BandCEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create derived cache: %w", err)
	}

	return &Pipeline{
		cfg:          cfg,
		embedder:     embedder,
		store:        store,
		generator:    generator,
		compress:     CompressEmbedding,
		metrics:      nopMetrics{},
		derivedCache: cache,
	}, nil
}

// SetCompressor swaps the embedding compression strategy. Must be called
// before the first Process.
func (p *Pipeline) SetCompressor(c Compressor) {
	if c != nil {
		p.compress = c
	}
}

// SetMetrics installs a metrics sink. Must be called before the first
// Process.
func (p *Pipeline) SetMetrics(m Metrics) {
	if m != nil {
		p.metrics = m
	}
}

// Process runs the full assembly for one query: embed, classify, retrieve,
// extract, score, pack, generate, verify. Collaborator failures propagate
// as hard errors wrapping the sentinel for the failing stage; an empty
// candidate set is valid input and still reaches the generator.
func (p *Pipeline) Process(ctx context.Context, query string) (Result, error) {
	trace := Trace{ID: uuid.NewString()}
	step := func(name string) { trace.Steps = append(trace.Steps, name) }

	step("embed_query")
	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		trace.Outcome = OutcomeFailed
		return Result{Trace: trace}, fmt.Errorf("%w: %w", ErrEmbedderFailed, err)
	}

	step("analyze_query")
	guard := AnalyzeQuery(query)
	p.metrics.Add("pipeline.risk_class", 1, map[string]string{"class": guard.RiskClass.String()})

	budget := BudgetForRiskClass(guard.RiskClass, p.cfg.BudgetProfile, p.cfg.BudgetOverrides)

	step("query_store")
	chunks, err := p.store.Query(ctx, queryVec, StoreFilters{
		Domains: guard.Metadata.DetectedDomains,
		Limit:   p.cfg.CandidateLimit,
	})
	if err != nil {
		trace.Outcome = OutcomeFailed
		return Result{Trace: trace}, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	p.metrics.Add("pipeline.candidates", float64(len(chunks)), nil)

	step("extract_facts")
	derived := p.deriveChunkData(chunks)

	step("score_chunks")
	opts := p.cfg.ScoreOptions
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	scored := ScoreChunks(chunks, queryVec, guard, opts)
	scored = ApplyDuplicationPenalties(scored, chunks)

	step("pack_bands")
	pack := PackBands(scored, chunks, derived, budget)
	pack.QueryGuard = guard
	p.metrics.Add("pipeline.band_a_chunks", float64(len(pack.BandA)), nil)
	p.metrics.Add("pipeline.band_b_chunks", float64(len(pack.BandB)), nil)
	p.metrics.Add("pipeline.band_c_entries", float64(len(pack.BandC)), nil)

	step("generate")
	generation, err := p.generator.Generate(ctx, query, pack)
	if err != nil {
		trace.Outcome = OutcomeFailed
		return Result{ContextPack: pack, Trace: trace}, fmt.Errorf("%w: %w", ErrGeneratorFailed, err)
	}

	step("verify")
	verification := VerifyAnswer(generation.Content, query, guard)
	if verification.Passed {
		trace.Outcome = OutcomeSuccess
	} else {
		trace.Outcome = OutcomeEscalated
		p.metrics.Add("pipeline.escalated", 1, map[string]string{
			"recommendation": string(verification.EscalationRecommendation),
		})
	}

	return Result{
		Answer:       generation.Content,
		ContextPack:  pack,
		Generation:   generation,
		Verification: verification,
		Trace:        trace,
	}, nil
}

// deriveChunkData extracts facts and compresses embeddings for every chunk,
// fanning out across chunks since each chunk's derived data is independent.
// Work is deduplicated by content hash so identical content is computed at
// most once per run and served from the cache on later runs.
func (p *Pipeline) deriveChunkData(chunks []Chunk) map[string]BandCEntry {
	out := make(map[string]BandCEntry, len(chunks))
	if len(chunks) == 0 {
		return out
	}

	type job struct {
		key     string
		indices []int
	}
	jobsByKey := map[string]*job{}
	ordered := []*job{}
	for i, chunk := range chunks {
		key := p.derivedKey(chunk)
		if j, ok := jobsByKey[key]; ok {
			j.indices = append(j.indices, i)
			continue
		}
		j := &job{key: key, indices: []int{i}}
		jobsByKey[key] = j
		ordered = append(ordered, j)
	}

	results := make([]BandCEntry, len(ordered))
	var wg sync.WaitGroup
	for jobIdx, j := range ordered {
		first := chunks[j.indices[0]]
		if cached, ok := p.derivedCache.Get(j.key); ok {
			results[jobIdx] = cached
			continue
		}
		wg.Add(1)
		go func(jobIdx int, chunk Chunk, key string) {
			defer wg.Done()
			entry := BandCEntry{
				Facts:      ExtractFacts(chunk.Text, chunk.ID, p.cfg.FactConfig),
				Compressed: p.compress(chunk.Embedding, p.cfg.CompressDim),
			}
			results[jobIdx] = entry
			p.derivedCache.Add(key, entry)
		}(jobIdx, first, j.key)
	}
	wg.Wait()

	for jobIdx, j := range ordered {
		for _, i := range j.indices {
			entry := results[jobIdx]
			entry.ChunkID = chunks[i].ID
			entry.Facts = retargetFacts(entry.Facts, chunks[i].ID)
			out[chunks[i].ID] = entry
		}
	}
	return out
}

// retargetFacts points cached facts at the chunk that carried the content
// this time around; identical text can arrive under different chunk IDs.
func retargetFacts(facts []Fact, chunkID string) []Fact {
	if len(facts) == 0 || facts[0].ChunkID == chunkID {
		return facts
	}
	out := make([]Fact, len(facts))
	copy(out, facts)
	for i := range out {
		out[i].ChunkID = chunkID
	}
	return out
}

// derivedKey covers every input the derived entry depends on: text for the
// fact passes, the full embedding vector for compression. Same text under a
// different embedding must not share an entry.
func (p *Pipeline) derivedKey(chunk Chunk) string {
	h := sha1.New()
	_, _ = h.Write([]byte(chunk.Text))
	_, _ = h.Write([]byte(fmt.Sprintf("|%d|%.2f|", p.cfg.CompressDim, p.cfg.FactConfig.ConfidenceThreshold)))
	var buf [4]byte
	for _, v := range chunk.Embedding {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = h.Write(buf[:])
	}
	return "derived:" + hex.EncodeToString(h.Sum(nil))
}
