package engine

import "time"

// RiskClass is the coarse severity tier assigned to a query. It drives
// budget size and the safeguards the final answer must carry.
type RiskClass int

const (
	RiskLow RiskClass = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the canonical lowercase name of the class.
func (r RiskClass) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RiskClasses lists all classes in ascending severity order.
func RiskClasses() []RiskClass {
	return []RiskClass{RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

// ContextBand is one of three tiers of context inclusion.
// A carries full text at highest priority, B is a larger full-text pool,
// C carries only compressed facts and reduced embeddings.
type ContextBand int

const (
	BandA ContextBand = iota
	BandB
	BandC
)

func (b ContextBand) String() string {
	switch b {
	case BandA:
		return "A"
	case BandB:
		return "B"
	case BandC:
		return "C"
	default:
		return "?"
	}
}

// Budget holds per-band token capacities for one risk class.
type Budget struct {
	BandA int
	BandB int
	BandC int
}

// ExpansionHint suggests an additional retrieval axis for a query.
type ExpansionHint struct {
	Type      string
	Value     string
	Priority  float64
	Mandatory bool
}

// GuardMetadata carries diagnostic signals from query analysis.
type GuardMetadata struct {
	Confidence       float64
	ProcessingTimeMS float64
	DetectedEntities []string
	DetectedDomains  []string
}

// QueryGuardResult is the full output of query risk analysis.
// Created once per query and never mutated afterward.
type QueryGuardResult struct {
	RiskClass        RiskClass
	HardRequirements []string
	ExpansionHints   []ExpansionHint
	Metadata         GuardMetadata
}

// FactType classifies structured extractions from chunk text.
type FactType string

const (
	FactNumber FactType = "number"
	FactQuote  FactType = "quote"
	FactCode   FactType = "code"
)

// Fact is a confidence-scored structured extraction from a chunk.
// Value holds a float64 for numbers and a string for quotes/code.
type Fact struct {
	ID         string
	Type       FactType
	Value      interface{}
	Context    string
	ChunkID    string
	Confidence float64
	Metadata   map[string]string
}

// NumberValue returns the numeric value for number facts.
func (f Fact) NumberValue() (float64, bool) {
	v, ok := f.Value.(float64)
	return v, ok
}

// StringValue returns the text value for quote/code facts.
func (f Fact) StringValue() (string, bool) {
	v, ok := f.Value.(string)
	return v, ok
}

// CompressionMetadata records the exact shape of a compression pass.
type CompressionMetadata struct {
	OriginalDimensions   int
	CompressedDimensions int
	CompressionRatio     float64
}

// CompressedEmbedding is a reduced-dimension representation of a chunk
// embedding, cheap enough for Band C inclusion.
type CompressedEmbedding struct {
	Values   []float32
	Metadata CompressionMetadata
}

// Chunk is a candidate text unit supplied by the external store.
// The engine treats every field as read-only input.
type Chunk struct {
	ID        string
	Text      string
	Source    string
	UpdatedAt time.Time
	Score     float64
	Embedding []float32
	Domains   []string
	Metadata  map[string]string
}

// ScoreComponents holds the normalized per-axis scores for a chunk.
type ScoreComponents struct {
	Similarity         float64
	Freshness          float64
	Diversity          float64
	DomainBonus        float64
	DuplicationPenalty float64
}

// ScoredChunk is the per-chunk output of the relevance scorer.
type ScoredChunk struct {
	ChunkID         string
	Score           float64
	Components      ScoreComponents
	RecommendedBand ContextBand
}

// EffectiveScore is the ranking score after duplication penalties.
func (s ScoredChunk) EffectiveScore() float64 {
	return s.Score - s.Components.DuplicationPenalty
}

// BandCEntry pairs one chunk's extracted facts with its compressed
// embedding for Band C inclusion.
type BandCEntry struct {
	ChunkID    string
	Facts      []Fact
	Compressed CompressedEmbedding
}

// BandUsage reports consumed versus allowed budget for one band.
type BandUsage struct {
	UsedBudget int
	Limit      int
}

// BudgetUsage reports consumption for all three bands.
type BudgetUsage struct {
	BandA BandUsage
	BandB BandUsage
	BandC BandUsage
}

// ContextPack is the assembled retrieval context for one query.
// Invariant: UsedBudget <= Limit for every band.
type ContextPack struct {
	QueryGuard  QueryGuardResult
	BandA       []Chunk
	BandB       []Chunk
	BandC       []BandCEntry
	BudgetUsage BudgetUsage
}

// EscalationRecommendation names the remediation path after a failed
// verification.
type EscalationRecommendation string

const (
	EscalateNone              EscalationRecommendation = "none"
	EscalateHumanReview       EscalationRecommendation = "human-review"
	EscalateExpandedRetrieval EscalationRecommendation = "expanded-retrieval"
)

// Verification is the post-generation contract check result.
type Verification struct {
	Passed                   bool
	Failures                 []string
	EscalationRecommendation EscalationRecommendation
}

// TraceOutcome classifies how a pipeline run ended.
type TraceOutcome string

const (
	OutcomeSuccess   TraceOutcome = "success"
	OutcomeEscalated TraceOutcome = "escalated"
	OutcomeFailed    TraceOutcome = "failed"
)

// Trace records the ordered steps of one pipeline run.
type Trace struct {
	ID      string
	Steps   []string
	Outcome TraceOutcome
}

// GenerationUsage mirrors provider-reported token accounting.
type GenerationUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generation is the raw output of the external generator.
type Generation struct {
	Content  string
	Provider string
	Usage    GenerationUsage
}

// Result is the full output of one pipeline run.
type Result struct {
	Answer       string
	ContextPack  ContextPack
	Generation   Generation
	Verification Verification
	Trace        Trace
}
