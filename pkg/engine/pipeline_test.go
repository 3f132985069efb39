package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	chunks  []Chunk
	err     error
	queries int
}

func (s *fakeStore) Query(_ context.Context, _ []float32, filters StoreFilters) ([]Chunk, error) {
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	if filters.Limit > 0 && len(s.chunks) > filters.Limit {
		return s.chunks[:filters.Limit], nil
	}
	return s.chunks, nil
}

type fakeGenerator struct {
	content string
	err     error
	calls   int
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, _ ContextPack) (Generation, error) {
	g.calls++
	if g.err != nil {
		return Generation{}, g.err
	}
	return Generation{Content: g.content, Provider: "fake"}, nil
}

type ctxStore struct{}

func (ctxStore) Query(ctx context.Context, _ []float32, _ StoreFilters) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

type ctxGenerator struct{}

func (ctxGenerator) Generate(ctx context.Context, _ string, _ ContextPack) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}
	return Generation{Content: "ok"}, nil
}

type failingEmbedder struct{}

func (failingEmbedder) ModelID() string { return "broken" }
func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

type countingMetrics struct {
	mu     sync.Mutex
	totals map[string]float64
}

func (m *countingMetrics) Add(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totals == nil {
		m.totals = map[string]float64{}
	}
	m.totals[metric] += value
}

func testChunks(t *testing.T, texts ...string) []Chunk {
	t.Helper()
	embedder := NewLocalEmbedder()
	chunks := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		vec, err := embedder.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("embed fixture: %v", err)
		}
		chunks = append(chunks, Chunk{
			ID:        fmt.Sprintf("chunk-%d", i),
			Text:      text,
			Source:    "fixture",
			UpdatedAt: time.Now(),
			Embedding: vec,
		})
	}
	return chunks
}

func TestPipelineProcessEndToEnd(t *testing.T) {
	store := &fakeStore{chunks: testChunks(t,
		"Connection pools should hold 10 connections per core for most workloads.",
		"Pool exhaustion shows up as latency spikes above 500 ms under load.",
	)}
	gen := &fakeGenerator{content: "Size pools to roughly 10 connections per core."}

	pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), store, gen)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	result, err := pipeline.Process(context.Background(), "How big should my database connection pool be?")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Answer == "" {
		t.Fatalf("no answer in result")
	}
	if result.Trace.ID == "" {
		t.Fatalf("trace must carry an id")
	}
	wantSteps := []string{"embed_query", "analyze_query", "query_store", "extract_facts", "score_chunks", "pack_bands", "generate", "verify"}
	if len(result.Trace.Steps) != len(wantSteps) {
		t.Fatalf("trace steps = %v, want %v", result.Trace.Steps, wantSteps)
	}
	for i, s := range wantSteps {
		if result.Trace.Steps[i] != s {
			t.Fatalf("step %d = %q, want %q", i, result.Trace.Steps[i], s)
		}
	}
	if gen.calls != 1 || store.queries != 1 {
		t.Fatalf("collaborators called %d/%d times, want 1/1", gen.calls, store.queries)
	}
}

func TestPipelineProcessEmptyStoreStillGenerates(t *testing.T) {
	gen := &fakeGenerator{content: "I have no stored context for that."}
	pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), &fakeStore{}, gen)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	result, err := pipeline.Process(context.Background(), "What is machine learning?")
	if err != nil {
		t.Fatalf("empty store must not error: %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("generator must still run on empty candidates")
	}
	if result.Trace.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", result.Trace.Outcome)
	}
	if len(result.ContextPack.BandA)+len(result.ContextPack.BandB)+len(result.ContextPack.BandC) != 0 {
		t.Fatalf("empty store produced non-empty bands")
	}
}

func TestPipelineProcessEmptyQuery(t *testing.T) {
	gen := &fakeGenerator{content: "Please ask a question."}
	pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), &fakeStore{}, gen)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	result, err := pipeline.Process(context.Background(), "")
	if err != nil {
		t.Fatalf("empty query must complete: %v", err)
	}
	if result.ContextPack.QueryGuard.RiskClass != RiskLow {
		t.Fatalf("empty query guard class = %s", result.ContextPack.QueryGuard.RiskClass)
	}
}

func TestPipelineProcessWrapsStageErrors(t *testing.T) {
	t.Run("embedder", func(t *testing.T) {
		pipeline, err := NewPipeline(PipelineConfig{}, failingEmbedder{}, &fakeStore{}, &fakeGenerator{content: "ok"})
		if err != nil {
			t.Fatalf("new pipeline: %v", err)
		}
		result, err := pipeline.Process(context.Background(), "anything")
		if !errors.Is(err, ErrEmbedderFailed) {
			t.Fatalf("err = %v, want ErrEmbedderFailed", err)
		}
		if result.Trace.Outcome != OutcomeFailed {
			t.Fatalf("outcome = %s, want failed", result.Trace.Outcome)
		}
	})

	t.Run("store", func(t *testing.T) {
		store := &fakeStore{err: errors.New("disk gone")}
		pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), store, &fakeGenerator{content: "ok"})
		if err != nil {
			t.Fatalf("new pipeline: %v", err)
		}
		_, err = pipeline.Process(context.Background(), "anything")
		if !errors.Is(err, ErrStoreFailed) {
			t.Fatalf("err = %v, want ErrStoreFailed", err)
		}
	})

	t.Run("generator", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("rate limited")}
		pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), &fakeStore{}, gen)
		if err != nil {
			t.Fatalf("new pipeline: %v", err)
		}
		result, err := pipeline.Process(context.Background(), "anything")
		if !errors.Is(err, ErrGeneratorFailed) {
			t.Fatalf("err = %v, want ErrGeneratorFailed", err)
		}
		if result.Trace.Outcome != OutcomeFailed {
			t.Fatalf("outcome = %s, want failed", result.Trace.Outcome)
		}
	})
}

func TestPipelineProcessPropagatesCancellation(t *testing.T) {
	pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), ctxStore{}, ctxGenerator{})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	// Sanity: a live context completes.
	if _, err := pipeline.Process(context.Background(), "anything"); err != nil {
		t.Fatalf("live context: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := pipeline.Process(ctx, "anything")
	if err == nil {
		t.Fatal("cancelled context must fail the run")
	}
	// The local embedder ignores ctx, so cancellation surfaces at the store.
	if !errors.Is(err, ErrStoreFailed) {
		t.Fatalf("err = %v, want ErrStoreFailed", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, must chain context.Canceled", err)
	}
	if result.Trace.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", result.Trace.Outcome)
	}
}

func TestPipelineProcessEscalatesFailedVerification(t *testing.T) {
	store := &fakeStore{chunks: testChunks(t,
		"Ibuprofen dosing guidance for adults with occasional headaches.",
	)}
	// Answer with no citations, no uncertainty, no disclaimer.
	gen := &fakeGenerator{content: "Take two pills."}
	pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), store, gen)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	result, err := pipeline.Process(context.Background(), "What medication should I take for my headache?")
	if err != nil {
		t.Fatalf("failed verification is not a pipeline error: %v", err)
	}
	if result.Verification.Passed {
		t.Fatalf("bare answer must fail high-risk verification")
	}
	if result.Trace.Outcome != OutcomeEscalated {
		t.Fatalf("outcome = %s, want escalated", result.Trace.Outcome)
	}
	if result.Verification.EscalationRecommendation == EscalateNone {
		t.Fatalf("failed verification must recommend an escalation path")
	}
	if result.Answer == "" {
		t.Fatalf("escalated results still carry the draft answer")
	}
}

func TestPipelineProcessBudgetConformance(t *testing.T) {
	texts := make([]string, 12)
	for i := range texts {
		texts[i] = fmt.Sprintf("Reference document %d covering index maintenance, vacuum scheduling and checkpoint tuning in detail with plenty of extra words to consume budget.", i)
	}
	store := &fakeStore{chunks: testChunks(t, texts...)}
	pipeline, err := NewPipeline(PipelineConfig{
		BudgetOverrides: map[RiskClass]BudgetOverride{
			RiskLow: {BandA: 50, BandB: 80, BandC: 40},
		},
	}, NewLocalEmbedder(), store, &fakeGenerator{content: "ok"})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	result, err := pipeline.Process(context.Background(), "What is index maintenance?")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	usage := result.ContextPack.BudgetUsage
	if usage.BandA.UsedBudget > usage.BandA.Limit {
		t.Fatalf("band A over budget: %d > %d", usage.BandA.UsedBudget, usage.BandA.Limit)
	}
	if usage.BandB.UsedBudget > usage.BandB.Limit {
		t.Fatalf("band B over budget: %d > %d", usage.BandB.UsedBudget, usage.BandB.Limit)
	}
	if usage.BandC.UsedBudget > usage.BandC.Limit {
		t.Fatalf("band C over budget: %d > %d", usage.BandC.UsedBudget, usage.BandC.Limit)
	}
	if usage.BandA.Limit != 50 || usage.BandB.Limit != 80 || usage.BandC.Limit != 40 {
		t.Fatalf("overrides not applied: %+v", usage)
	}
}

func TestPipelineDeduplicatesDerivedWork(t *testing.T) {
	shared := "The cluster holds 42 nodes across 3 regions."
	store := &fakeStore{chunks: testChunks(t, shared, shared, shared)}
	pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), store, &fakeGenerator{content: "ok"})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	derived := pipeline.deriveChunkData(store.chunks)
	if len(derived) != 3 {
		t.Fatalf("every chunk id gets an entry, got %d", len(derived))
	}
	for id, entry := range derived {
		if entry.ChunkID != id {
			t.Fatalf("entry for %s carries chunk id %s", id, entry.ChunkID)
		}
		for _, f := range entry.Facts {
			if f.ChunkID != id {
				t.Fatalf("fact under %s points at %s", id, f.ChunkID)
			}
		}
	}
}

func TestPipelineDerivedEntriesTrackEmbedding(t *testing.T) {
	pipeline, err := NewPipeline(PipelineConfig{CompressDim: 2}, NewLocalEmbedder(), &fakeStore{}, &fakeGenerator{content: "ok"})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	chunks := []Chunk{
		{ID: "a", Text: "same text", Embedding: []float32{1, 0, 0, 0}},
		{ID: "b", Text: "same text", Embedding: []float32{0, 0, 0, 1}},
	}
	derived := pipeline.deriveChunkData(chunks)

	a := derived["a"].Compressed.Values
	b := derived["b"].Compressed.Values
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("bad compressed dims: %v %v", a, b)
	}
	if a[0] != 0.5 || a[1] != 0 {
		t.Fatalf("chunk a compressed = %v, want [0.5 0]", a)
	}
	if b[0] != 0 || b[1] != 0.5 {
		t.Fatalf("chunk b compressed = %v, want [0 0.5]", b)
	}

	// A later run with chunk a's text under a new embedding must not be
	// served chunk a's cached vector.
	rerun := pipeline.deriveChunkData([]Chunk{{ID: "a", Text: "same text", Embedding: []float32{0, 0, 1, 0}}})
	if got := rerun["a"].Compressed.Values; got[0] != 0 || got[1] != 0.5 {
		t.Fatalf("re-embedded chunk compressed = %v, want [0 0.5]", got)
	}
}

func TestPipelineRequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(PipelineConfig{}, nil, &fakeStore{}, &fakeGenerator{}); err == nil {
		t.Fatalf("nil embedder must be rejected")
	}
	if _, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), nil, &fakeGenerator{}); err == nil {
		t.Fatalf("nil store must be rejected")
	}
	if _, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), &fakeStore{}, nil); err == nil {
		t.Fatalf("nil generator must be rejected")
	}
}

func TestPipelineMetricsSink(t *testing.T) {
	metrics := &countingMetrics{}
	pipeline, err := NewPipeline(PipelineConfig{}, NewLocalEmbedder(), &fakeStore{}, &fakeGenerator{content: "ok"})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	pipeline.SetMetrics(metrics)
	if _, err := pipeline.Process(context.Background(), "What is machine learning?"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if metrics.totals["pipeline.risk_class"] != 1 {
		t.Fatalf("risk class metric not recorded: %v", metrics.totals)
	}
	if _, ok := metrics.totals["pipeline.candidates"]; !ok {
		t.Fatalf("candidate metric not recorded: %v", metrics.totals)
	}
}
