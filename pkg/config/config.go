package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dotsetgreg/refrag/pkg/engine"
)

type Config struct {
	Engine   EngineConfig   `json:"engine"`
	Provider ProviderConfig `json:"provider"`
	Store    StoreConfig    `json:"store"`
	mu       sync.RWMutex
}

// EngineConfig surfaces the engine's operational knobs: scoring weights,
// band thresholds, budget profile and per-class overrides.
type EngineConfig struct {
	BudgetProfile           string                    `json:"budget_profile" env:"REFRAG_ENGINE_BUDGET_PROFILE"`
	BudgetOverrides         map[string]BudgetOverride `json:"budget_overrides"`
	SimilarityWeight        float64                   `json:"similarity_weight" env:"REFRAG_ENGINE_SIMILARITY_WEIGHT"`
	FreshnessWeight         float64                   `json:"freshness_weight" env:"REFRAG_ENGINE_FRESHNESS_WEIGHT"`
	DiversityWeight         float64                   `json:"diversity_weight" env:"REFRAG_ENGINE_DIVERSITY_WEIGHT"`
	DomainBonus             float64                   `json:"domain_bonus" env:"REFRAG_ENGINE_DOMAIN_BONUS"`
	FreshnessHalfLifeHours  int                       `json:"freshness_half_life_hours" env:"REFRAG_ENGINE_FRESHNESS_HALF_LIFE_HOURS"`
	FactConfidenceThreshold float64                   `json:"fact_confidence_threshold" env:"REFRAG_ENGINE_FACT_CONFIDENCE_THRESHOLD"`
	CompressDim             int                       `json:"compress_dim" env:"REFRAG_ENGINE_COMPRESS_DIM"`
	CandidateLimit          int                       `json:"candidate_limit" env:"REFRAG_ENGINE_CANDIDATE_LIMIT"`
	CacheSize               int                       `json:"cache_size" env:"REFRAG_ENGINE_CACHE_SIZE"`
}

// BudgetOverride partially replaces one risk class's base budget; zero
// fields keep the profile value.
type BudgetOverride struct {
	BandA int `json:"band_a"`
	BandB int `json:"band_b"`
	BandC int `json:"band_c"`
}

type ProviderConfig struct {
	Name        string  `json:"name" env:"REFRAG_PROVIDER_NAME"`
	APIKey      string  `json:"api_key" env:"REFRAG_PROVIDER_API_KEY"`
	APIBase     string  `json:"api_base" env:"REFRAG_PROVIDER_API_BASE"`
	Model       string  `json:"model" env:"REFRAG_PROVIDER_MODEL"`
	Proxy       string  `json:"proxy,omitempty" env:"REFRAG_PROVIDER_PROXY"`
	MaxTokens   int     `json:"max_tokens" env:"REFRAG_PROVIDER_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"REFRAG_PROVIDER_TEMPERATURE"`
}

type StoreConfig struct {
	Path string `json:"path" env:"REFRAG_STORE_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			BudgetProfile:           "default",
			SimilarityWeight:        0.55,
			FreshnessWeight:         0.20,
			DiversityWeight:         0.15,
			DomainBonus:             0.10,
			FreshnessHalfLifeHours:  14 * 24,
			FactConfidenceThreshold: 0.5,
			CompressDim:             64,
			CandidateLimit:          64,
			CacheSize:               512,
		},
		Provider: ProviderConfig{
			Name:        "openrouter",
			APIBase:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-5.2",
			MaxTokens:   4096,
			Temperature: 0.3,
		},
		Store: StoreConfig{
			Path: "~/.refrag/state/chunks.db",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// StorePath returns the chunk database path with ~ expanded.
func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Store.Path)
}

// PipelineConfig translates the config into the engine's option struct.
func (c *Config) PipelineConfig() (engine.PipelineConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overrides := map[engine.RiskClass]engine.BudgetOverride{}
	for name, ov := range c.Engine.BudgetOverrides {
		class, err := parseRiskClass(name)
		if err != nil {
			return engine.PipelineConfig{}, err
		}
		overrides[class] = engine.BudgetOverride{
			BandA: ov.BandA,
			BandB: ov.BandB,
			BandC: ov.BandC,
		}
	}

	cfg := engine.PipelineConfig{
		BudgetProfile:   c.Engine.BudgetProfile,
		BudgetOverrides: overrides,
		FactConfig:      engine.FactConfig{ConfidenceThreshold: c.Engine.FactConfidenceThreshold},
		CompressDim:     c.Engine.CompressDim,
		CandidateLimit:  c.Engine.CandidateLimit,
		CacheSize:       c.Engine.CacheSize,
	}
	cfg.ScoreOptions.Weights = engine.ScoreWeights{
		Similarity:  c.Engine.SimilarityWeight,
		Freshness:   c.Engine.FreshnessWeight,
		Diversity:   c.Engine.DiversityWeight,
		DomainBonus: c.Engine.DomainBonus,
	}
	if c.Engine.FreshnessHalfLifeHours > 0 {
		cfg.ScoreOptions.FreshnessHalfLife = time.Duration(c.Engine.FreshnessHalfLifeHours) * time.Hour
	}
	return cfg, nil
}

func parseRiskClass(name string) (engine.RiskClass, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return engine.RiskLow, nil
	case "medium":
		return engine.RiskMedium, nil
	case "high":
		return engine.RiskHigh, nil
	case "critical":
		return engine.RiskCritical, nil
	default:
		return engine.RiskLow, fmt.Errorf("unknown risk class in budget overrides: %q", name)
	}
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
