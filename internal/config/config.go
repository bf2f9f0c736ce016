package config

import (
	"time"

	"github.com/coreagent/runtime/pkg/models"
)

// Config is the root configuration document. It is decoded from YAML (or
// JSON) by LoadRaw + decodeRawConfig, with unknown fields rejected so a
// typo in a config file fails fast rather than being silently ignored.
type Config struct {
	Version       int                 `yaml:"version"`
	Session       SessionConfig       `yaml:"session"`
	Tools         ToolsConfig         `yaml:"tools"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
	Signal        SignalConfig        `yaml:"signal"`
	Swarm         SwarmConfig         `yaml:"swarm"`
	Store         StoreConfig         `yaml:"store"`
	Loop          LoopConfig          `yaml:"loop"`
}

// LoopConfig tunes the Session Supervisor & Loop.
type LoopConfig struct {
	// Tiers maps each routing tier to its token budget, temperature, and
	// max-iteration ceiling. Unset tiers fall back to DefaultTierPolicies.
	Tiers map[models.Tier]models.TierPolicy `yaml:"tiers"`
	// DoomLoopThreshold is how many consecutive identical-and-failing tool
	// calls (same name, same argument hash) halt the loop. Default: 3.
	DoomLoopThreshold int `yaml:"doom_loop_threshold"`
	// MaxContextTokens bounds what the Context Builder may pack into a
	// single completion request. Default: 128000.
	MaxContextTokens int `yaml:"max_context_tokens"`
	// CompletionHeadroomTokens is reserved out of MaxContextTokens for the
	// model's own response. Default: 4096.
	CompletionHeadroomTokens int `yaml:"completion_headroom_tokens"`
}

// DefaultTierPolicies mirrors §4.1/§4.6: elite for orchestration and
// architecture, specialist for implementation, utility for classification
// and quick tasks. Each tier's MaxIterations is the ReAct loop's
// max-iteration ceiling (default 30 per §4.1).
func DefaultTierPolicies() map[models.Tier]models.TierPolicy {
	return map[models.Tier]models.TierPolicy{
		models.TierElite:      {TokenBudget: 8192, Temperature: 0.7, MaxIterations: 30},
		models.TierSpecialist: {TokenBudget: 4096, Temperature: 0.4, MaxIterations: 30},
		models.TierUtility:    {TokenBudget: 512, Temperature: 0.0, MaxIterations: 10},
	}
}

// DefaultLoopConfig returns the Session Loop's out-of-the-box tuning.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Tiers:                    DefaultTierPolicies(),
		DoomLoopThreshold:        3,
		MaxContextTokens:         128000,
		CompletionHeadroomTokens: 4096,
	}
}

// SignalConfig controls the Signal Classifier and the two-tier Noise Filter
// gating whether a message reaches the full ReAct loop.
type SignalConfig struct {
	Classifier  SignalClassifierConfig `yaml:"classifier"`
	NoiseFilter NoiseFilterConfig      `yaml:"noise_filter"`
}

// SignalClassifierConfig tunes the deterministic classifier.
type SignalClassifierConfig struct {
	// LLMAssist enables a utility-tier LLM call to refine mode/genre for
	// ambiguous input. Disabled by default so classification stays
	// deterministic and free.
	LLMAssist bool `yaml:"llm_assist"`
}

// NoiseFilterConfig tunes the two-tier noise filter. Thresholds are
// configuration rather than constants: operators tune them per deployment
// (quiet household assistant vs. noisy group channel).
type NoiseFilterConfig struct {
	// FilterThreshold is the weight below which a high-confidence message is
	// treated as noise and answered with a canned acknowledgment instead of
	// an LLM call.
	FilterThreshold float64 `yaml:"filter_threshold"`
	// BorderlineLow/BorderlineHigh bound the weight band consulted by the
	// optional Tier 2 LLM check.
	BorderlineLow  float64 `yaml:"borderline_low"`
	BorderlineHigh float64 `yaml:"borderline_high"`
	// LLMTierCheck enables Tier 2: a tiny utility-tier "actionable? y/n"
	// call for borderline-weight messages.
	LLMTierCheck bool `yaml:"llm_tier_check"`
	// AckPatterns are Tier 1 deterministic noise patterns, matched
	// case-insensitively against the trimmed message body.
	AckPatterns []string `yaml:"ack_patterns"`
	// AllowCannedAck lists channel tags permitted to receive a canned
	// acknowledgment in place of an LLM call; channels not listed always
	// reach the full loop.
	AllowCannedAck []string `yaml:"allow_canned_ack"`
}

// DefaultNoiseFilterConfig mirrors the Open Question resolution in DESIGN.md:
// 0.15/0.30 bound the borderline band, consistent with the Signal weight
// formula's [0,1] range.
func DefaultNoiseFilterConfig() NoiseFilterConfig {
	return NoiseFilterConfig{
		FilterThreshold: 0.15,
		BorderlineLow:   0.15,
		BorderlineHigh:  0.30,
		LLMTierCheck:    false,
		AckPatterns:     []string{"ok", "okay", "thanks", "thank you", "k", "kk", "cool", "got it", "sounds good", "👍", "🙏"},
	}
}

// SwarmConfig tunes the Swarm Orchestrator.
type SwarmConfig struct {
	MaxParallelism int           `yaml:"max_parallelism"`
	WorkerTimeout  time.Duration `yaml:"worker_timeout"`
}

// StoreConfig configures the durable Session Store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}
