package loop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	agentcontext "github.com/coreagent/runtime/internal/context"
	"github.com/coreagent/runtime/internal/hookpipe"
	"github.com/coreagent/runtime/internal/identity"
	"github.com/coreagent/runtime/internal/observability"
	"github.com/coreagent/runtime/internal/providers"
	"github.com/coreagent/runtime/internal/signal"
	sessions "github.com/coreagent/runtime/internal/store"
	"github.com/coreagent/runtime/internal/swarm"
	"github.com/coreagent/runtime/internal/tools"
	"github.com/coreagent/runtime/pkg/models"
)

// ResultKind is the shape of the value the Session Loop hands back from
// one ProcessMessage call, per §4.1's contract: "accepts process_message,
// returns one of {text response, plan proposal, filtered, error}".
type ResultKind string

const (
	ResultText     ResultKind = "text"
	ResultPlan     ResultKind = "plan"
	ResultFiltered ResultKind = "filtered"
	ResultError    ResultKind = "error"
)

// Result is the outcome of one ProcessMessage call.
type Result struct {
	Kind      ResultKind
	Text      string
	Signal    models.Signal
	Usage     models.Usage
	Iteration int
	Err       error
}

// ProcessOptions carries the per-call knobs the spec's process_message
// contract exposes.
type ProcessOptions struct {
	// SkipPlan bypasses the plan-vs-execute gate even if the session has
	// plan mode enabled; set by the caller re-invoking after a plan was
	// already approved.
	SkipPlan bool
	// Tier overrides the signal-derived tier for this call.
	Tier models.Tier
	// Sink receives the fine-grained AgentEvent telemetry stream for this
	// call (model deltas, tool lifecycle, run lifecycle). Defaults to a
	// no-op sink when nil.
	Sink EventSink
}

// SupervisorConfig tunes the ReAct loop: per-tier iteration ceilings and
// the doom-loop guard.
type SupervisorConfig struct {
	Tiers                    map[models.Tier]models.TierPolicy
	DoomLoopThreshold        int
	MaxContextTokens         int
	CompletionHeadroomTokens int
}

// DefaultSupervisorConfig returns the loop's out-of-the-box tuning.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Tiers:                    defaultTierPolicies(),
		DoomLoopThreshold:        3,
		MaxContextTokens:         128000,
		CompletionHeadroomTokens: 4096,
	}
}

func defaultTierPolicies() map[models.Tier]models.TierPolicy {
	return map[models.Tier]models.TierPolicy{
		models.TierElite:      {TokenBudget: 8192, Temperature: 0.7, MaxIterations: 30},
		models.TierSpecialist: {TokenBudget: 4096, Temperature: 0.4, MaxIterations: 30},
		models.TierUtility:    {TokenBudget: 512, Temperature: 0.0, MaxIterations: 10},
	}
}

// ActionabilityCheckerFunc adapts the Router into signal.ActionabilityChecker
// for the Noise Filter's optional Tier 2 utility-model check.
type ActionabilityCheckerFunc func(ctx context.Context, text string) (bool, error)

// IsActionable implements signal.ActionabilityChecker.
func (f ActionabilityCheckerFunc) IsActionable(ctx context.Context, text string) (bool, error) {
	return f(ctx, text)
}

// Supervisor is the Session Loop: one actor type shared across sessions,
// holding no per-session state itself (that lives on the *models.Session
// the caller passes in). It wires the Signal Classifier, Noise Filter,
// Hook Pipeline, Context Builder, Provider Router, Tool Dispatcher, Event
// Bus, and Session Store into the ReAct state machine described in §4.1.
type Supervisor struct {
	store      sessions.Store
	classifier *signal.Classifier
	noise      *signal.NoiseFilter
	hooks      *hookpipe.Pipeline
	router     *providers.Router
	dispatcher *tools.Dispatcher
	packer     *agentcontext.Packer
	identity   *identity.Registry
	events     EventBus
	tracer     *observability.Tracer
	logger     *slog.Logger
	cfg        SupervisorConfig

	// swarm and presets are nil until EnableSwarm is called; the Swarm
	// Orchestrator (§4.9) is an optional attachment, not a mandatory
	// dependency of every Session Loop.
	swarm   *swarm.Orchestrator
	presets map[string]models.Preset
}

// EventBus is the subset of bus.Registry the loop needs: dispatching the
// coarse models.Event envelope described in §4.2/§6. Kept as an interface
// so the loop can be tested without a real registry.
type EventBus interface {
	Trigger(ctx context.Context, event *models.Event) error
}

// New builds a Supervisor from its component dependencies. tracer and
// logger may be nil; a no-op tracer and slog.Default are used respectively.
func New(
	store sessions.Store,
	classifier *signal.Classifier,
	noise *signal.NoiseFilter,
	hooks *hookpipe.Pipeline,
	router *providers.Router,
	dispatcher *tools.Dispatcher,
	packer *agentcontext.Packer,
	identityReg *identity.Registry,
	events EventBus,
	tracer *observability.Tracer,
	logger *slog.Logger,
	cfg SupervisorConfig,
) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tiers == nil {
		cfg.Tiers = defaultTierPolicies()
	}
	if cfg.DoomLoopThreshold <= 0 {
		cfg.DoomLoopThreshold = 3
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 128000
	}
	return &Supervisor{
		store:      store,
		classifier: classifier,
		noise:      noise,
		hooks:      hooks,
		router:     router,
		dispatcher: dispatcher,
		packer:     packer,
		identity:   identityReg,
		events:     events,
		tracer:     tracer,
		logger:     logger.With("component", "loop"),
		cfg:        cfg,
	}
}

// ProcessMessage drives one inbound message through classification, the
// noise filter, the plan-vs-execute gate, and (if neither short-circuits)
// the bounded ReAct loop, per §4.1's Main algorithm. The session is
// persisted at each step via the Session Store; ProcessMessage itself holds
// no state beyond the call stack.
func (s *Supervisor) ProcessMessage(ctx context.Context, session *models.Session, in models.InboundMessage, opts ProcessOptions) (*Result, error) {
	runID := uuid.NewString()
	collector := NewStatsCollector(runID)
	sink := NewMultiSink(opts.Sink, NewCallbackSink(collector.OnEvent))
	emitter := NewEventEmitter(runID, sink)
	emitter.RunStarted(ctx)
	var result *Result
	defer func() {
		if result == nil {
			return
		}
		if result.Err != nil {
			emitter.RunError(ctx, result.Err, false)
		} else {
			emitter.RunFinished(ctx, collector.Stats())
		}
	}()

	if session.IterationCount == 0 && len(session.History) == 0 {
		s.emitBus(ctx, &models.Event{Kind: models.EventSessionStart, SessionID: session.ID, Time: time.Now()})
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   in.ChannelTag,
		ChannelID: in.ConversationID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   in.Text,
		Metadata:  in.Metadata,
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendMessage(ctx, session.ID, userMsg); err != nil {
		return nil, &LoopError{Phase: PhaseInit, Message: "append user turn", Cause: err}
	}
	session.History = append(session.History, userMsg)

	sig := s.classifier.Classify(in.Text)
	session.CachedSignal = &sig

	verdict := s.noise.Check(ctx, in.Text, sig.Weight, sig.Confidence == models.ConfidenceHigh, string(in.ChannelTag))
	if verdict.Noise {
		if verdict.CannedAck != "" {
			s.appendAssistant(ctx, session, verdict.CannedAck, nil)
		}
		s.emitBus(ctx, &models.Event{
			Kind:      models.EventAgentResponse,
			SessionID: session.ID,
			Time:      time.Now(),
			AgentResponse: &models.AgentResponseEvent{
				SessionID: session.ID,
				Text:      verdict.CannedAck,
				Signal:    &sig,
				Filtered:  true,
			},
		})
		result = &Result{Kind: ResultFiltered, Signal: sig}
		return result, nil
	}

	preLLM := s.hooks.RunPre(ctx, models.HookPreLLM, session)
	if preLLM.Outcome != hookpipe.Ok {
		s.emitBlocked(ctx, session.ID, models.HookPreLLM, preLLM.Reason)
		result = &Result{Kind: ResultError, Signal: sig, Err: &LoopError{Phase: PhaseInit, Message: "pre_llm blocked: " + preLLM.Reason}}
		return result, nil
	}

	tier := opts.Tier
	if tier == "" {
		tier = deriveTier(sig)
	}
	policy := s.tierPolicy(tier)

	var err error
	if session.PlanMode && !opts.SkipPlan && (sig.Mode == models.ModeBuild || sig.Mode == models.ModeExecute) {
		result, err = s.runPlanningPass(ctx, session, tier, policy, sig)
		return result, err
	}

	result, err = s.runReActLoop(ctx, session, tier, policy, sig, emitter)
	return result, err
}

// deriveTier maps the classifier's weight onto a routing tier when the
// caller doesn't pin one explicitly, per §4.6's tier-routing contract.
func deriveTier(sig models.Signal) models.Tier {
	switch {
	case sig.Weight >= 0.6:
		return models.TierElite
	case sig.Weight >= 0.3:
		return models.TierSpecialist
	default:
		return models.TierUtility
	}
}

func (s *Supervisor) tierPolicy(tier models.Tier) models.TierPolicy {
	if p, ok := s.cfg.Tiers[tier]; ok {
		return p
	}
	return models.TierPolicy{MaxIterations: 30, Temperature: 0.5, TokenBudget: 4096}
}

// runPlanningPass issues a single, tool-free completion asking the model
// for a structured plan and returns it without dispatching any tools;
// the caller re-invokes with SkipPlan=true to execute it (§4.1 step 5).
func (s *Supervisor) runPlanningPass(ctx context.Context, session *models.Session, tier models.Tier, policy models.TierPolicy, sig models.Signal) (*Result, error) {
	packed, err := s.packContext(session, nil)
	if err != nil {
		return nil, &LoopError{Phase: PhaseBuilding, Message: "pack context for plan", Cause: err}
	}

	req := &providers.CompletionRequest{
		System:    s.systemPrompt(session, sig) + "\n\nPropose a structured step-by-step plan for the request below. Do not call any tools; describe what you would do.",
		Messages:  toCompletionMessages(packed),
		MaxTokens: policy.TokenBudget,
	}

	chunks, err := s.router.Complete(ctx, tier, req)
	if err != nil {
		return &Result{Kind: ResultError, Signal: sig, Err: &LoopError{Phase: PhasePlanning, Message: "router completion", Cause: err}}, nil
	}

	text, usage, err := drainText(ctx, chunks)
	if err != nil {
		return &Result{Kind: ResultError, Signal: sig, Err: &LoopError{Phase: PhasePlanning, Message: "drain completion stream", Cause: err}}, nil
	}

	s.appendAssistant(ctx, session, text, nil)
	return &Result{Kind: ResultPlan, Text: text, Signal: sig, Usage: usage}, nil
}

// runReActLoop runs the bounded ReAct loop: build context, call the
// router, dispatch any tool calls with hook gating, and repeat until the
// model returns plain text, the doom-loop guard trips, or the tier's
// iteration ceiling is reached (§4.1 step 6).
func (s *Supervisor) runReActLoop(ctx context.Context, session *models.Session, tier models.Tier, policy models.TierPolicy, sig models.Signal, emitter *EventEmitter) (*Result, error) {
	maxIter := policy.MaxIterations
	if maxIter <= 0 {
		maxIter = 30
	}

	doomKey := ""
	doomStreak := 0

	var totalUsage models.Usage

	for iter := 0; iter < maxIter; iter++ {
		iterCtx := ctx
		if s.tracer != nil {
			spanCtx, span := s.tracer.Start(ctx, "session_loop.iteration")
			s.tracer.SetAttributes(span, "session_id", session.ID, "iteration", iter, "tier", string(tier))
			iterCtx = spanCtx
			defer span.End()
		}
		emitter.SetIter(iter)
		emitter.IterStarted(iterCtx)

		packed, err := s.packContext(session, nil)
		if err != nil {
			return nil, &LoopError{Phase: PhaseBuilding, Iteration: iter, Message: "pack context", Cause: err}
		}

		req := &providers.CompletionRequest{
			System:    s.systemPrompt(session, sig),
			Messages:  toCompletionMessages(packed),
			Tools:     s.activeToolSchemas(tier),
			MaxTokens: policy.TokenBudget,
		}

		chunks, err := s.router.Complete(ctx, tier, req)
		if err != nil {
			loopErr := &LoopError{Phase: PhaseStream, Iteration: iter, Message: "router completion", Cause: err}
			emitter.RunError(ctx, loopErr, false)
			return &Result{Kind: ResultError, Signal: sig, Iteration: iter, Err: loopErr}, nil
		}

		text, toolCalls, usage, err := drainCompletion(ctx, chunks, emitter)
		if err != nil {
			loopErr := &LoopError{Phase: PhaseStream, Iteration: iter, Message: "drain completion stream", Cause: err}
			emitter.RunError(ctx, loopErr, false)
			return &Result{Kind: ResultError, Signal: sig, Iteration: iter, Err: loopErr}, nil
		}
		totalUsage.PromptTokens += usage.PromptTokens
		totalUsage.CompletionTokens += usage.CompletionTokens
		emitter.IterFinished(ctx)

		if len(toolCalls) == 0 {
			s.appendAssistant(ctx, session, text, nil)
			postResp := s.hooks.RunPost(ctx, models.HookPostResponse, text, false)
			if postResp.Outcome != hookpipe.Ok {
				s.emitBlocked(ctx, session.ID, models.HookPostResponse, postResp.Reason)
			}
			s.emitBus(ctx, &models.Event{
				Kind:      models.EventAgentResponse,
				SessionID: session.ID,
				Time:      time.Now(),
				AgentResponse: &models.AgentResponseEvent{
					SessionID: session.ID,
					Text:      text,
					Signal:    &sig,
					Usage:     totalUsage,
				},
			})
			return &Result{Kind: ResultText, Text: text, Signal: sig, Usage: totalUsage, Iteration: iter}, nil
		}

		toolCtx := withSession(ctx, session)
		results := make([]models.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			result, halt := s.dispatchOneTool(toolCtx, session, call, &doomKey, &doomStreak)
			results = append(results, result)
			if halt {
				s.appendAssistant(ctx, session, text, toolCalls)
				s.store.AppendMessage(ctx, session.ID, &models.Message{
					ID:          uuid.NewString(),
					SessionID:   session.ID,
					Role:        models.RoleTool,
					ToolResults: results,
					CreatedAt:   time.Now(),
				})
				loopErr := &LoopError{
					Phase:     PhaseToolDispatching,
					Iteration: iter,
					Message:   fmt.Sprintf("doom loop detected for tool %q after %d consecutive failures", call.Name, s.cfg.DoomLoopThreshold),
				}
				emitter.RunError(ctx, loopErr, false)
				return &Result{Kind: ResultError, Signal: sig, Iteration: iter, Err: loopErr}, nil
			}
		}

		assistantMsg := &models.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		}
		if err := s.store.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
			return nil, &LoopError{Phase: PhaseToolDispatching, Iteration: iter, Message: "append assistant turn", Cause: err}
		}
		session.History = append(session.History, assistantMsg)

		toolMsg := &models.Message{
			ID:          uuid.NewString(),
			SessionID:   session.ID,
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   time.Now(),
		}
		if err := s.store.AppendMessage(ctx, session.ID, toolMsg); err != nil {
			return nil, &LoopError{Phase: PhaseToolDispatching, Iteration: iter, Message: "append tool result turn", Cause: err}
		}
		session.History = append(session.History, toolMsg)

		session.IterationCount++
	}

	loopErr := &LoopError{Phase: PhaseContinue, Iteration: maxIter, Cause: ErrMaxIterations}
	emitter.RunError(ctx, loopErr, false)
	return &Result{Kind: ResultError, Signal: sig, Iteration: maxIter, Err: loopErr}, nil
}

// dispatchOneTool runs pre_tool_use/post_tool_use hook gating around one
// tool dispatch and updates the doom-loop guard. halt reports whether the
// guard tripped and the loop must stop.
func (s *Supervisor) dispatchOneTool(ctx context.Context, session *models.Session, call models.ToolCall, doomKey *string, doomStreak *int) (result models.ToolResult, halt bool) {
	key := toolCallKey(call)

	pre := s.hooks.RunPre(ctx, models.HookPreToolUse, call)
	if pre.Outcome != hookpipe.Ok {
		s.emitBlocked(ctx, session.ID, models.HookPreToolUse, pre.Reason)
		result = models.ToolResult{ToolCallID: call.ID, Error: pre.Reason, IsError: true}
	} else {
		s.emitBus(ctx, &models.Event{
			Kind:      models.EventToolCall,
			SessionID: session.ID,
			Time:      time.Now(),
			ToolCall:  &models.ToolCallEvent{Name: call.Name, Phase: models.ToolCallPhaseStart},
		})
		start := time.Now()
		result = s.dispatcher.Dispatch(ctx, call)
		ok := !result.IsError
		elapsed := time.Since(start).Milliseconds()
		s.emitBus(ctx, &models.Event{
			Kind:      models.EventToolCall,
			SessionID: session.ID,
			Time:      time.Now(),
			ToolCall:  &models.ToolCallEvent{Name: call.Name, Phase: models.ToolCallPhaseEnd, DurationMS: elapsed, OK: &ok},
		})
	}

	post := s.hooks.RunPost(ctx, models.HookPostToolUse, result, true)
	if post.Outcome != hookpipe.Ok {
		s.emitBlocked(ctx, session.ID, models.HookPostToolUse, post.Reason)
	}

	if result.IsError {
		if key == *doomKey {
			*doomStreak++
		} else {
			*doomKey = key
			*doomStreak = 1
		}
		if *doomStreak >= s.cfg.DoomLoopThreshold {
			return result, true
		}
	} else {
		*doomKey = ""
		*doomStreak = 0
	}

	return result, false
}

// toolCallKey hashes (name, arguments) for the doom-loop guard.
func toolCallKey(call models.ToolCall) string {
	h := sha256.Sum256(call.Arguments)
	return call.Name + ":" + hex.EncodeToString(h[:])
}

func (s *Supervisor) packContext(session *models.Session, incoming *models.Message) ([]*models.Message, error) {
	summary := agentcontext.FindLatestSummary(session.History)
	return s.packer.Pack(session.History, incoming, summary)
}

// systemPrompt assembles the layered prompt described in §4.8: identity,
// signal summary, environment, with conversation history handled
// separately via packContext.
func (s *Supervisor) systemPrompt(session *models.Session, sig models.Signal) string {
	var snap *identity.Snapshot
	if s.identity != nil {
		snap = s.identity.Current()
	}
	prompt := ""
	if snap != nil {
		if frag := snap.PromptFragment(); frag != "" {
			prompt += frag + "\n\n"
		}
	}
	prompt += fmt.Sprintf("Signal: mode=%s genre=%s weight=%.2f\n", sig.Mode, sig.Genre, sig.Weight)
	prompt += fmt.Sprintf("Channel: %s\n", session.Channel)
	return prompt
}

// activeToolSchemas implements the capability gate in §4.4: tools are
// stripped entirely for a provider tier with no declared tool support.
func (s *Supervisor) activeToolSchemas(tier models.Tier) []models.ToolDescriptor {
	for _, info := range s.router.Describe(tier) {
		if !info.SupportsTools {
			return nil
		}
		break
	}
	return s.dispatcher.Descriptors()
}

func (s *Supervisor) appendAssistant(ctx context.Context, session *models.Session, text string, toolCalls []models.ToolCall) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendMessage(ctx, session.ID, msg); err != nil {
		s.logger.Warn("append assistant message failed", "session_id", session.ID, "error", err)
		return
	}
	session.History = append(session.History, msg)
}

func (s *Supervisor) emitBus(ctx context.Context, event *models.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Trigger(ctx, event); err != nil {
		s.logger.Warn("event bus handler error", "kind", event.Kind, "error", err)
	}
}

func (s *Supervisor) emitBlocked(ctx context.Context, sessionID string, kind models.HookKind, reason string) {
	s.emitBus(ctx, &models.Event{
		Kind:      models.EventHookBlocked,
		SessionID: sessionID,
		Time:      time.Now(),
		HookBlocked: &models.HookBlockedEvent{
			Event:  kind,
			Reason: reason,
		},
	})
}

func toCompletionMessages(history []*models.Message) []providers.CompletionMessage {
	out := make([]providers.CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, providers.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}

// drainText consumes a completion stream expected to contain no tool
// calls (the planning pass never offers tools) and returns the
// accumulated text and usage.
func drainText(ctx context.Context, chunks <-chan *providers.CompletionChunk) (string, models.Usage, error) {
	text, _, usage, err := drainCompletion(ctx, chunks, nil)
	return text, usage, err
}

// drainCompletion consumes a full completion stream, forwarding deltas and
// tool-call/tool-finish telemetry to emitter if non-nil, and returns the
// accumulated assistant text, any tool calls requested, and usage totals.
func drainCompletion(ctx context.Context, chunks <-chan *providers.CompletionChunk, emitter *EventEmitter) (string, []models.ToolCall, models.Usage, error) {
	var text string
	var calls []models.ToolCall
	var usage models.Usage

	for chunk := range chunks {
		if chunk.Error != nil {
			return text, calls, usage, chunk.Error
		}
		if chunk.Text != "" {
			text += chunk.Text
			if emitter != nil {
				emitter.ModelDelta(ctx, chunk.Text)
			}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			usage.PromptTokens += chunk.InputTokens
			usage.CompletionTokens += chunk.OutputTokens
		}
	}
	return text, calls, usage, nil
}
