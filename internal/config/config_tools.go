package config

import "time"

// ToolsConfig controls the tool dispatcher's execution and policy behavior.
// Concrete tool implementations (shell, file, web, ...) are out of scope;
// this only configures the dispatch path every tool goes through.
type ToolsConfig struct {
	Execution   ToolExecutionConfig   `yaml:"execution"`
	Policies    ToolPoliciesConfig    `yaml:"policies"`
	ResultGuard ToolResultGuardConfig `yaml:"result_guard"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	Default string           `yaml:"default"` // "allow" or "deny"
	Rules   []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a tool, optionally scoped by channel.
type ToolPolicyRule struct {
	Tool     string   `yaml:"tool"`
	Action   string   `yaml:"action"` // "allow" | "deny"
	Channels []string `yaml:"channels"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	Parallelism   int           `yaml:"parallelism"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	MaxResultBytes int          `yaml:"max_result_bytes"`
}

// ToolResultGuardConfig controls truncation/redaction of tool results before
// they're fed back to the model or persisted.
type ToolResultGuardConfig struct {
	Enabled        bool     `yaml:"enabled"`
	MaxBytes       int      `yaml:"max_bytes"`
	RedactPatterns []string `yaml:"redact_patterns"`
	TruncateSuffix string   `yaml:"truncate_suffix"`
}
