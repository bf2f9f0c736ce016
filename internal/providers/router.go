package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreagent/runtime/internal/backoff"
	"github.com/coreagent/runtime/pkg/models"
)

// backend pairs a registered LLMProvider with the model it should be asked
// for when resolving a given tier.
type backend struct {
	provider LLMProvider
	model    string
}

// circuitState tracks a backend's health for the breaker.
type circuitState struct {
	mu          sync.Mutex
	failures    int
	openedAt    time.Time
	cooldown    time.Duration
}

func (c *circuitState) open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures < 3 {
		return false
	}
	return time.Since(c.openedAt) < c.cooldown
}

func (c *circuitState) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures == 3 {
		c.openedAt = time.Now()
		if c.cooldown == 0 {
			c.cooldown = 30 * time.Second
		}
	}
}

func (c *circuitState) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}

// Router resolves a routing tier to a concrete provider/model, retries
// transient failures once in place, and falls over to the next configured
// backend in the tier's chain on hard failure. It never swaps models for a
// byte-compatible wire format across providers -- the whole point is to
// hide that difference behind CompletionRequest/CompletionChunk.
type Router struct {
	mu       sync.RWMutex
	chains   map[models.Tier][]backend
	breakers map[string]*circuitState // keyed by provider name
	logger   *slog.Logger
}

// NewRouter builds an empty router. Use Register to add provider/tier
// bindings before routing requests.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		chains:   make(map[models.Tier][]backend),
		breakers: make(map[string]*circuitState),
		logger:   logger,
	}
}

// Register appends provider/model as a fallback candidate for tier. Earlier
// registrations are tried first; later ones are the fallback chain.
func (r *Router) Register(tier models.Tier, provider LLMProvider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[tier] = append(r.chains[tier], backend{provider: provider, model: model})
	if _, ok := r.breakers[provider.Name()]; !ok {
		r.breakers[provider.Name()] = &circuitState{}
	}
}

// ProviderInfo reports what's configured for a tier, for capability checks
// (tool support, context window) before building a request.
type ProviderInfo struct {
	Tier          models.Tier `json:"tier"`
	Provider      string      `json:"provider"`
	Model         string      `json:"model"`
	SupportsTools bool        `json:"supports_tools"`
}

// Describe lists the active (non-circuit-broken) chain for a tier.
func (r *Router) Describe(tier models.Tier) []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ProviderInfo
	for _, b := range r.chains[tier] {
		out = append(out, ProviderInfo{
			Tier:          tier,
			Provider:      b.provider.Name(),
			Model:         b.model,
			SupportsTools: b.provider.SupportsTools(),
		})
	}
	return out
}

// Complete resolves tier to a provider/model and streams a completion,
// retrying once on a transient error from the same backend before advancing
// to the next backend in the chain. A hard (non-retryable) error advances
// immediately. Returns an error only once every backend in the chain has
// been exhausted.
func (r *Router) Complete(ctx context.Context, tier models.Tier, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	r.mu.RLock()
	chain := append([]backend(nil), r.chains[tier]...)
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, fmt.Errorf("providers: no backend registered for tier %q", tier)
	}

	var lastErr error
	for i, b := range chain {
		breaker := r.breaker(b.provider.Name())
		if breaker.open() {
			r.logger.Warn("skipping circuit-broken provider", "provider", b.provider.Name(), "tier", tier)
			continue
		}

		attemptReq := *req
		if attemptReq.Model == "" {
			attemptReq.Model = b.model
		}

		chunks, err := r.attempt(ctx, b, &attemptReq)
		if err == nil {
			breaker.recordSuccess()
			return chunks, nil
		}

		lastErr = err
		breaker.recordFailure()
		r.logger.Warn("provider failed, advancing fallback chain",
			"provider", b.provider.Name(), "tier", tier, "chain_index", i, "error", err)

		if !ShouldFailover(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("providers: all backends exhausted for tier %q: %w", tier, lastErr)
}

// attempt calls the backend once, retrying in place exactly once if the
// error is retryable per the provider's error taxonomy.
func (r *Router) attempt(ctx context.Context, b backend, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	chunks, err := b.provider.Complete(ctx, req)
	if err == nil {
		return chunks, nil
	}
	if !IsRetryable(err) {
		return nil, err
	}

	if err := backoff.SleepWithBackoff(ctx, backoff.DefaultPolicy(), 1); err != nil {
		return nil, err
	}

	return b.provider.Complete(ctx, req)
}

func (r *Router) breaker(provider string) *circuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = &circuitState{}
		r.breakers[provider] = b
	}
	return b
}
