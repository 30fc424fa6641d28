// Package config provides configuration loading for engramd.
//
// Configuration is loaded from a YAML file, then overridden by
// environment variables. Every tunable the scoring and consolidation
// components use lives here: components receive an immutable Config
// and never hardcode thresholds at call sites.
package config

import (
	"fmt"
	"math"
	"time"
)

// ValidationError reports a rejected configuration value. Runs are
// never started with invalid configuration; the error carries the
// offending field for callers to surface.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// Config holds the complete engramd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Store         StoreConfig         `koanf:"store"`
	Text          TextConfig          `koanf:"text"`
	Index         IndexConfig         `koanf:"index"`
	Events        EventsConfig        `koanf:"events"`
	Saliency      SaliencyConfig      `koanf:"saliency"`
	WorkingSet    WorkingSetConfig    `koanf:"workingset"`
	Consolidation ConsolidationConfig `koanf:"consolidation"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Listen          string   `koanf:"listen"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `koanf:"driver"`

	// Path is the SQLite database file. Ignored by the memory driver.
	Path string `koanf:"path"`
}

// TextConfig configures the embedding/summarization service client.
// When Enabled is false the pipeline runs on lexical fallbacks and
// marks its output degraded.
type TextConfig struct {
	Enabled    bool     `koanf:"enabled"`
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	EmbedModel string   `koanf:"embed_model"`
	APIKey     Secret   `koanf:"api_key"`
	RPS        float64  `koanf:"rps"`
	Burst      int      `koanf:"burst"`
	MaxRetries int      `koanf:"max_retries"`
	Timeout    Duration `koanf:"timeout"`
}

// IndexConfig configures the embedded pattern index.
type IndexConfig struct {
	// Path is the on-disk index location; empty keeps the index
	// in-memory only.
	Path string `koanf:"path"`

	// Collection is the pattern collection name.
	Collection string `koanf:"collection"`

	// Compress enables gzip for persisted index files.
	Compress bool `koanf:"compress"`
}

// EventsConfig configures the NATS notice publisher. An empty URL
// disables publishing.
type EventsConfig struct {
	URL  string `koanf:"url"`
	Name string `koanf:"name"`
}

// SaliencyConfig holds the scoring weights and classification
// thresholds. The four weights must sum to 1.0 exactly.
type SaliencyConfig struct {
	WeightFrequency float64 `koanf:"weight_frequency"`
	WeightRecency   float64 `koanf:"weight_recency"`
	WeightRelevance float64 `koanf:"weight_relevance"`
	WeightSurprise  float64 `koanf:"weight_surprise"`

	// RecencyHalfLifeDays controls the exponential age decay. At
	// age = half-life the recency component is 0.5.
	RecencyHalfLifeDays float64 `koanf:"recency_half_life_days"`

	// FocusPrimary and FocusSecondary split scores into
	// primary / secondary / background, lower bound inclusive.
	FocusPrimary   float64 `koanf:"focus_primary"`
	FocusSecondary float64 `koanf:"focus_secondary"`

	// RecommendKeep, RecommendMonitor, and RecommendBackground split
	// scores into KEEP_IN_FOCUS / MONITOR / BACKGROUND / INHIBIT,
	// lower bound inclusive.
	RecommendKeep       float64 `koanf:"recommend_keep"`
	RecommendMonitor    float64 `koanf:"recommend_monitor"`
	RecommendBackground float64 `koanf:"recommend_background"`
}

// WorkingSetConfig bounds the attention window.
type WorkingSetConfig struct {
	// Capacity is the maximum member count before eviction. The
	// default of 9 follows the 7±2 cognitive-load heuristic.
	Capacity int `koanf:"capacity"`
}

// ConsolidationConfig holds the pipeline tunables.
type ConsolidationConfig struct {
	// Strategy is conservative, balanced, or aggressive.
	Strategy string `koanf:"strategy"`

	// WindowDays is how far back a run reaches. Zero means "today
	// only" (window starts at midnight UTC); nil takes the default.
	// Negative values are rejected.
	WindowDays *int `koanf:"window_days"`

	// MinFrequency is the minimum occurrence count before a pattern
	// is emitted.
	MinFrequency int `koanf:"min_frequency"`

	// MinSuccessRate is the bar for emitting candidate procedures.
	MinSuccessRate float64 `koanf:"min_success_rate"`

	// PruneThreshold is the balanced-strategy saliency bar below
	// which experiences are archived instead of promoted.
	PruneThreshold float64 `koanf:"prune_threshold"`

	// ConfidenceBase, ConfidenceIncrement, and ConfidenceCap shape
	// pattern confidence: clamp(base + increment·(count−1), 0, cap).
	ConfidenceBase      float64 `koanf:"confidence_base"`
	ConfidenceIncrement float64 `koanf:"confidence_increment"`
	ConfidenceCap       float64 `koanf:"confidence_cap"`

	// ScoringWorkers bounds the SCORING stage worker pool.
	ScoringWorkers int `koanf:"scoring_workers"`

	// StageTimeout bounds each stage; RunTimeout bounds the whole
	// run; ItemTimeout bounds one item's scoring (fail-soft).
	StageTimeout Duration `koanf:"stage_timeout"`
	RunTimeout   Duration `koanf:"run_timeout"`
	ItemTimeout  Duration `koanf:"item_timeout"`

	// SimilarityThreshold is the minimum pairwise similarity for two
	// experiences to land in the same pattern group.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// SummaryBudgetTokens is the summarization budget for pattern
	// content.
	SummaryBudgetTokens int `koanf:"summary_budget_tokens"`

	// FeedbackBudget is the strategy-slot budget included with
	// skill-strategy feedback.
	FeedbackBudget int `koanf:"feedback_budget"`

	// RecallSampleSize is how many extracted patterns the quality
	// stage samples through the index for the retrieval-recall check.
	RecallSampleSize int `koanf:"recall_sample_size"`

	// RulesPath is an optional TOML file adding custom matcher rules
	// to the extraction registry.
	RulesPath string `koanf:"rules_path"`
}

// Window returns the configured window in days, defaulting when unset.
func (c ConsolidationConfig) Window() int {
	if c.WindowDays == nil {
		return DefaultWindowDays
	}
	return *c.WindowDays
}

// SchedulerConfig controls the background consolidation loop.
type SchedulerConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Interval Duration `koanf:"interval"`
	Scopes   []string `koanf:"scopes"`
}

// Shipped defaults. applyDefaults writes these into unset fields;
// Validate then enforces the invariants on whatever is effective.
const (
	DefaultWindowDays     = 7
	DefaultMinFrequency   = 2
	DefaultMinSuccessRate = 0.6
	DefaultCapacity       = 9

	defaultWeightFrequency = 0.30
	defaultWeightRecency   = 0.30
	defaultWeightRelevance = 0.25
	defaultWeightSurprise  = 0.15

	defaultHalfLifeDays = 7.0

	defaultFocusPrimary   = 0.70
	defaultFocusSecondary = 0.40

	defaultRecommendKeep       = 0.80
	defaultRecommendMonitor    = 0.60
	defaultRecommendBackground = 0.40

	defaultPruneThreshold      = 0.30
	defaultConfidenceBase      = 0.5
	defaultConfidenceIncrement = 0.1
	defaultConfidenceCap       = 0.95

	defaultScoringWorkers      = 4
	defaultSimilarityThreshold = 0.80

	weightSumTolerance = 1e-9
)

// Validate checks the configuration invariants.
//
// Returns a *ValidationError naming the offending field. Notable
// rules: the four saliency weights must sum to 1.0 exactly (within
// floating-point tolerance), classification thresholds must be
// strictly ordered, and negative window_days or min_frequency are
// rejected outright.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return &ValidationError{Field: "server.listen", Message: "listen address cannot be empty"}
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return &ValidationError{Field: "server.shutdown_timeout", Message: "must be positive"}
	}

	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return &ValidationError{Field: "store.driver", Message: fmt.Sprintf("unknown driver %q", c.Store.Driver)}
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return &ValidationError{Field: "store.path", Message: "sqlite driver requires a path"}
	}

	if c.Text.Enabled {
		if c.Text.BaseURL == "" {
			return &ValidationError{Field: "text.base_url", Message: "required when text service is enabled"}
		}
		if c.Text.RPS <= 0 {
			return &ValidationError{Field: "text.rps", Message: "must be positive"}
		}
	}

	if err := c.Saliency.Validate(); err != nil {
		return err
	}

	if c.WorkingSet.Capacity < 1 {
		return &ValidationError{Field: "workingset.capacity", Message: "must be at least 1"}
	}

	if err := c.Consolidation.Validate(); err != nil {
		return err
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval.Duration() <= 0 {
		return &ValidationError{Field: "scheduler.interval", Message: "must be positive when scheduler is enabled"}
	}

	return nil
}

// Validate checks the saliency section invariants. Exported so
// consumers of the section alone can check it.
func (s SaliencyConfig) Validate() error {
	weights := map[string]float64{
		"saliency.weight_frequency": s.WeightFrequency,
		"saliency.weight_recency":   s.WeightRecency,
		"saliency.weight_relevance": s.WeightRelevance,
		"saliency.weight_surprise":  s.WeightSurprise,
	}
	for field, w := range weights {
		if w < 0 || w > 1 {
			return &ValidationError{Field: field, Message: "must be in [0,1]"}
		}
	}
	sum := s.WeightFrequency + s.WeightRecency + s.WeightRelevance + s.WeightSurprise
	if math.Abs(sum-1.0) > weightSumTolerance {
		return &ValidationError{
			Field:   "saliency.weight_*",
			Message: fmt.Sprintf("weights must sum to 1.0, got %g", sum),
		}
	}

	if s.RecencyHalfLifeDays <= 0 {
		return &ValidationError{Field: "saliency.recency_half_life_days", Message: "must be positive"}
	}

	if s.FocusPrimary <= s.FocusSecondary {
		return &ValidationError{Field: "saliency.focus_primary", Message: "must be above focus_secondary"}
	}
	if s.RecommendKeep <= s.RecommendMonitor || s.RecommendMonitor <= s.RecommendBackground {
		return &ValidationError{Field: "saliency.recommend_*", Message: "thresholds must be strictly decreasing"}
	}
	return nil
}

// Validate checks the consolidation section invariants.
func (c ConsolidationConfig) Validate() error {
	switch c.Strategy {
	case "conservative", "balanced", "aggressive":
	default:
		return &ValidationError{Field: "consolidation.strategy", Message: fmt.Sprintf("unknown strategy %q", c.Strategy)}
	}

	if c.WindowDays != nil && *c.WindowDays < 0 {
		return &ValidationError{Field: "consolidation.window_days", Message: "cannot be negative"}
	}
	if c.MinFrequency < 1 {
		return &ValidationError{Field: "consolidation.min_frequency", Message: "must be at least 1"}
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return &ValidationError{Field: "consolidation.min_success_rate", Message: "must be in [0,1]"}
	}
	if c.PruneThreshold < 0 || c.PruneThreshold > 1 {
		return &ValidationError{Field: "consolidation.prune_threshold", Message: "must be in [0,1]"}
	}
	if c.ConfidenceBase < 0 || c.ConfidenceBase > 1 {
		return &ValidationError{Field: "consolidation.confidence_base", Message: "must be in [0,1]"}
	}
	if c.ConfidenceIncrement < 0 || c.ConfidenceIncrement > 1 {
		return &ValidationError{Field: "consolidation.confidence_increment", Message: "must be in [0,1]"}
	}
	if c.ConfidenceCap < c.ConfidenceBase || c.ConfidenceCap > 1 {
		return &ValidationError{Field: "consolidation.confidence_cap", Message: "must be in [confidence_base,1]"}
	}
	if c.ScoringWorkers < 1 {
		return &ValidationError{Field: "consolidation.scoring_workers", Message: "must be at least 1"}
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return &ValidationError{Field: "consolidation.similarity_threshold", Message: "must be in [0,1]"}
	}
	if c.RunTimeout.Duration() <= 0 || c.StageTimeout.Duration() <= 0 {
		return &ValidationError{Field: "consolidation.run_timeout", Message: "timeouts must be positive"}
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":9292"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/engramd/engramd.db"
	}

	if cfg.Text.Enabled {
		if cfg.Text.BaseURL == "" {
			cfg.Text.BaseURL = "http://localhost:8080/v1"
		}
		if cfg.Text.Model == "" {
			cfg.Text.Model = "gpt-4o-mini"
		}
		if cfg.Text.EmbedModel == "" {
			cfg.Text.EmbedModel = "text-embedding-3-small"
		}
		if cfg.Text.RPS == 0 {
			cfg.Text.RPS = 5
		}
		if cfg.Text.Burst == 0 {
			cfg.Text.Burst = 10
		}
		if cfg.Text.MaxRetries == 0 {
			cfg.Text.MaxRetries = 3
		}
		if cfg.Text.Timeout == 0 {
			cfg.Text.Timeout = Duration(30 * time.Second)
		}
	}

	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "engram_patterns"
	}

	if cfg.Events.Name == "" {
		cfg.Events.Name = "engramd"
	}

	applySaliencyDefaults(&cfg.Saliency)

	if cfg.WorkingSet.Capacity == 0 {
		cfg.WorkingSet.Capacity = DefaultCapacity
	}

	applyConsolidationDefaults(&cfg.Consolidation)

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = Duration(time.Hour)
	}
}

func applySaliencyDefaults(s *SaliencyConfig) {
	// Weights default as a block: partial overrides must account for
	// the sum-to-1.0 invariant themselves.
	if s.WeightFrequency == 0 && s.WeightRecency == 0 && s.WeightRelevance == 0 && s.WeightSurprise == 0 {
		s.WeightFrequency = defaultWeightFrequency
		s.WeightRecency = defaultWeightRecency
		s.WeightRelevance = defaultWeightRelevance
		s.WeightSurprise = defaultWeightSurprise
	}
	if s.RecencyHalfLifeDays == 0 {
		s.RecencyHalfLifeDays = defaultHalfLifeDays
	}
	if s.FocusPrimary == 0 {
		s.FocusPrimary = defaultFocusPrimary
	}
	if s.FocusSecondary == 0 {
		s.FocusSecondary = defaultFocusSecondary
	}
	if s.RecommendKeep == 0 {
		s.RecommendKeep = defaultRecommendKeep
	}
	if s.RecommendMonitor == 0 {
		s.RecommendMonitor = defaultRecommendMonitor
	}
	if s.RecommendBackground == 0 {
		s.RecommendBackground = defaultRecommendBackground
	}
}

func applyConsolidationDefaults(c *ConsolidationConfig) {
	if c.Strategy == "" {
		c.Strategy = "balanced"
	}
	if c.MinFrequency == 0 {
		c.MinFrequency = DefaultMinFrequency
	}
	if c.MinSuccessRate == 0 {
		c.MinSuccessRate = DefaultMinSuccessRate
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = defaultPruneThreshold
	}
	if c.ConfidenceBase == 0 {
		c.ConfidenceBase = defaultConfidenceBase
	}
	if c.ConfidenceIncrement == 0 {
		c.ConfidenceIncrement = defaultConfidenceIncrement
	}
	if c.ConfidenceCap == 0 {
		c.ConfidenceCap = defaultConfidenceCap
	}
	if c.ScoringWorkers == 0 {
		c.ScoringWorkers = defaultScoringWorkers
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = defaultSimilarityThreshold
	}
	if c.StageTimeout == 0 {
		c.StageTimeout = Duration(2 * time.Minute)
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = Duration(10 * time.Minute)
	}
	if c.ItemTimeout == 0 {
		c.ItemTimeout = Duration(10 * time.Second)
	}
	if c.SummaryBudgetTokens == 0 {
		c.SummaryBudgetTokens = 120
	}
	if c.FeedbackBudget == 0 {
		c.FeedbackBudget = 3
	}
	if c.RecallSampleSize == 0 {
		c.RecallSampleSize = 5
	}
}

// Default returns the shipped default configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
