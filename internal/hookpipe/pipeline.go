// Package hookpipe implements the Hook Pipeline: priority-ordered pre/post
// middleware around loop and tool-dispatch events, with three-way handler
// results (ok, block, error) instead of the Event Bus's fire-and-forget
// fan-out.
package hookpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coreagent/runtime/pkg/models"
)

// Outcome classifies what a handler decided.
type Outcome int

const (
	// Ok means the handler ran cleanly; Payload carries its (possibly
	// rewritten) version of the input.
	Ok Outcome = iota
	// Blocked means the handler vetoed the operation; Reason explains why.
	Blocked
	// Errored means the handler itself failed; Reason carries the error text.
	Errored
)

// Result is a handler's three-way verdict.
type Result struct {
	Outcome Outcome
	Payload any
	Reason  string
}

// OkResult wraps a payload as a clean pass-through result.
func OkResult(payload any) Result { return Result{Outcome: Ok, Payload: payload} }

// BlockResult vetoes the in-flight operation with reason.
func BlockResult(reason string) Result { return Result{Outcome: Blocked, Reason: reason} }

// ErrorResult reports that the handler itself failed.
func ErrorResult(reason string) Result { return Result{Outcome: Errored, Reason: reason} }

func okResult(payload any) Result      { return OkResult(payload) }
func errorResult(reason string) Result { return ErrorResult(reason) }

// Handler runs for one hook kind. pre_* handlers run synchronously and may
// block the operation; post_* handlers may run async (see Run's async
// parameter) and their Payload is informational only.
type Handler func(ctx context.Context, payload any) Result

type registration struct {
	kind     models.HookKind
	name     string
	priority int
	seq      int // registration order, used as a priority tiebreak
	handler  Handler
}

// Pipeline holds handlers grouped by hook kind, ordered by ascending
// priority with registration order breaking ties.
type Pipeline struct {
	mu      sync.RWMutex
	byKind  map[models.HookKind][]registration
	nextSeq int
	logger  *slog.Logger
}

// New returns an empty pipeline.
func New(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{byKind: make(map[models.HookKind][]registration), logger: logger}
}

// Register adds handler under kind at the given priority (lower runs
// first). Returns a token that can be passed to Unregister.
func (p *Pipeline) Register(kind models.HookKind, name string, priority int, handler Handler) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	seq := p.nextSeq
	p.nextSeq++
	list := append(p.byKind[kind], registration{
		kind: kind, name: name, priority: priority, seq: seq, handler: handler,
	})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	p.byKind[kind] = list
	return seq
}

// Unregister removes a handler previously added with Register, by its
// returned token.
func (p *Pipeline) Unregister(kind models.HookKind, token int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.byKind[kind]
	for i, r := range list {
		if r.seq == token {
			p.byKind[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// isPre reports whether a hook kind is a pre_* (blocking) hook by
// convention; every kind defined in pkg/models/hook.go is prefixed either
// "pre_" or "post_".
func isPre(kind models.HookKind) bool {
	s := string(kind)
	return len(s) >= 4 && s[:4] == "pre_"
}

// RunPre runs every pre_* handler for kind in priority order, synchronously,
// threading payload through each handler's (possibly rewritten) output. The
// first Blocked or Errored result stops the chain and is returned as-is.
func (p *Pipeline) RunPre(ctx context.Context, kind models.HookKind, payload any) Result {
	if !isPre(kind) {
		return okResult(payload)
	}

	p.mu.RLock()
	handlers := append([]registration(nil), p.byKind[kind]...)
	p.mu.RUnlock()

	current := payload
	for _, h := range handlers {
		result := p.invoke(ctx, h, current)
		switch result.Outcome {
		case Blocked, Errored:
			p.logger.Warn("hook pipeline stopped chain", "kind", kind, "handler", h.name, "outcome", result.Outcome, "reason", result.Reason)
			return result
		default:
			current = result.Payload
		}
	}
	return okResult(current)
}

// RunPost dispatches every post_* handler for kind. If async is true each
// handler runs in its own goroutine and RunPost returns immediately with Ok;
// otherwise handlers run synchronously in priority order and RunPost returns
// the first non-Ok result (if any), matching RunPre's short-circuit shape.
func (p *Pipeline) RunPost(ctx context.Context, kind models.HookKind, payload any, async bool) Result {
	p.mu.RLock()
	handlers := append([]registration(nil), p.byKind[kind]...)
	p.mu.RUnlock()

	if async {
		for _, h := range handlers {
			go func(h registration) {
				if result := p.invoke(ctx, h, payload); result.Outcome != Ok {
					p.logger.Warn("async post hook returned non-ok", "kind", kind, "handler", h.name, "outcome", result.Outcome, "reason", result.Reason)
				}
			}(h)
		}
		return okResult(payload)
	}

	current := payload
	for _, h := range handlers {
		result := p.invoke(ctx, h, current)
		switch result.Outcome {
		case Blocked, Errored:
			return result
		default:
			current = result.Payload
		}
	}
	return okResult(current)
}

// invoke recovers a panicking handler into an Errored result so one bad
// hook can't crash the loop that's driving the pipeline.
func (p *Pipeline) invoke(ctx context.Context, h registration, payload any) (result Result) {
	timer := prometheus.NewTimer(hookDuration.WithLabelValues(string(h.kind), h.name))
	defer func() {
		timer.ObserveDuration()
		if r := recover(); r != nil {
			result = errorResult(fmt.Sprintf("hook %q panicked: %v", h.name, r))
		}
		hookInvocations.WithLabelValues(string(h.kind), h.name, outcomeLabel(result.Outcome)).Inc()
	}()
	return h.handler(ctx, payload)
}
