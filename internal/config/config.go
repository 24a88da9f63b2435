package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type LLMConfig struct {
	Provider          string  `toml:"provider"`
	Model             string  `toml:"model"`
	EmbeddingModel    string  `toml:"embedding_model"`
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type StoreConfig struct {
	// Backend selects the graph store implementation: "sqlite" (default)
	// or "memgraph".
	Backend  string `toml:"backend"`
	DSN      string `toml:"dsn"`
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type ExtractionPrompts struct {
	Graph         string `toml:"graph"`
	Contradiction string `toml:"contradiction"`
}

type VerificationConfig struct {
	// ForeshadowStaleScenes is the number of scenes a FORESHADOWS edge may
	// stay open before FAST verification flags it.
	ForeshadowStaleScenes int `toml:"foreshadow_stale_scenes"`
	// ChallengeGapMin is the minimum CHALLENGES edges expected per
	// character present past the setup act.
	ChallengeGapMin int `toml:"challenge_gap_min"`
	// PacingPlateauRun is the longest tolerated run of scenes without an
	// action-category edge.
	PacingPlateauRun int `toml:"pacing_plateau_run"`
}

type RouterConfig struct {
	DefaultTokenBudget int `toml:"default_token_budget"`
	EgoRadius          int `toml:"ego_radius"`
	EgoMaxNodes        int `toml:"ego_max_nodes"`
	SemanticK          int `toml:"semantic_k"`
}

type ConcurrencyConfig struct {
	ReindexWorkers int `toml:"reindex_workers"`
}

type Config struct {
	LLM          LLMConfig          `toml:"llm"`
	Store        StoreConfig        `toml:"store"`
	Extraction   ExtractionPrompts  `toml:"extraction"`
	Verification VerificationConfig `toml:"verification"`
	Router       RouterConfig       `toml:"router"`
	Concurrency  ConcurrencyConfig  `toml:"concurrency"`
}

// Default returns a configuration that works without a config file: SQLite
// in-process storage and built-in prompt templates.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "tapestry.db"
	}
	if c.LLM.RequestsPerSecond == 0 {
		c.LLM.RequestsPerSecond = 2
	}
	if c.LLM.Burst == 0 {
		c.LLM.Burst = 4
	}
	if c.Verification.ForeshadowStaleScenes == 0 {
		c.Verification.ForeshadowStaleScenes = 20
	}
	if c.Verification.ChallengeGapMin == 0 {
		c.Verification.ChallengeGapMin = 1
	}
	if c.Verification.PacingPlateauRun == 0 {
		c.Verification.PacingPlateauRun = 4
	}
	if c.Router.DefaultTokenBudget == 0 {
		c.Router.DefaultTokenBudget = 2000
	}
	if c.Router.EgoRadius == 0 {
		c.Router.EgoRadius = 2
	}
	if c.Router.EgoMaxNodes == 0 {
		c.Router.EgoMaxNodes = 50
	}
	if c.Router.SemanticK == 0 {
		c.Router.SemanticK = 10
	}
	if c.Concurrency.ReindexWorkers == 0 {
		c.Concurrency.ReindexWorkers = 4
	}
}
