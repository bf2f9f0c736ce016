package signal

import (
	"context"
	"strings"
	"unicode"

	"github.com/coreagent/runtime/internal/config"
)

// ActionabilityChecker is Tier 2 of the Noise Filter: a tiny utility-tier
// model call asking whether a borderline-weight message is actionable. The
// Session Loop supplies an implementation backed by its Provider Router;
// the signal package has no provider dependency of its own so it stays
// testable without a network call.
type ActionabilityChecker interface {
	IsActionable(ctx context.Context, text string) (bool, error)
}

// Verdict is the Noise Filter's decision for one message.
type Verdict struct {
	// Noise is true if the message should be answered with a canned
	// acknowledgment (or silently dropped) instead of reaching the LLM loop.
	Noise bool
	// CannedAck is the acknowledgment text to send when Noise is true and
	// the channel allows it.
	CannedAck string
	// Tier reports which tier produced the verdict, for logging/metrics.
	Tier int
}

// NoiseFilter gates whether a classified message reaches the full ReAct
// loop. Tier 1 is a deterministic ack-pattern match; Tier 2 is an optional
// LLM actionability check for borderline weights.
type NoiseFilter struct {
	cfg     config.NoiseFilterConfig
	checker ActionabilityChecker
	acks    map[string]struct{}
}

// NewNoiseFilter builds a filter from config. checker may be nil, in which
// case Tier 2 is skipped regardless of cfg.LLMTierCheck.
func NewNoiseFilter(cfg config.NoiseFilterConfig, checker ActionabilityChecker) *NoiseFilter {
	acks := make(map[string]struct{}, len(cfg.AckPatterns))
	for _, p := range cfg.AckPatterns {
		acks[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return &NoiseFilter{cfg: cfg, checker: checker, acks: acks}
}

// Check runs both tiers against a classified message and its raw text.
// channel is the inbound channel tag; a canned ack is only ever proposed
// for channels listed in AllowCannedAck.
func (f *NoiseFilter) Check(ctx context.Context, text string, weight float64, highConfidence bool, channel string) Verdict {
	if f.tier1Noise(text) && highConfidence {
		return Verdict{Noise: true, CannedAck: f.cannedAckFor(channel), Tier: 1}
	}

	if weight < f.cfg.FilterThreshold && highConfidence {
		return Verdict{Noise: true, CannedAck: f.cannedAckFor(channel), Tier: 1}
	}

	if f.cfg.LLMTierCheck && f.checker != nil && f.inBorderlineBand(weight) {
		actionable, err := f.checker.IsActionable(ctx, text)
		if err == nil && !actionable {
			return Verdict{Noise: true, CannedAck: f.cannedAckFor(channel), Tier: 2}
		}
	}

	return Verdict{Noise: false}
}

func (f *NoiseFilter) inBorderlineBand(weight float64) bool {
	return weight >= f.cfg.BorderlineLow && weight <= f.cfg.BorderlineHigh
}

// tier1Noise matches a short, emoji-only, or punctuation-only acknowledgment
// independent of the weight formula -- "ok" and "👍" both weigh near zero
// already, but this catches emoji combinations the word-count heuristic
// might not.
func (f *NoiseFilter) tier1Noise(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return true
	}
	if _, ok := f.acks[trimmed]; ok {
		return true
	}
	return isEmojiOrPunctuationOnly(trimmed)
}

func isEmojiOrPunctuationOnly(text string) bool {
	hasContent := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			continue
		default:
			hasContent = true
		}
	}
	return hasContent
}

func (f *NoiseFilter) cannedAckFor(channel string) string {
	for _, allowed := range f.cfg.AllowCannedAck {
		if allowed == channel {
			return "👍"
		}
	}
	return ""
}
