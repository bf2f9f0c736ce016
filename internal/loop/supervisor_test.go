package loop

import (
	"context"
	"encoding/json"
	"testing"

	agentcontext "github.com/coreagent/runtime/internal/context"
	"github.com/coreagent/runtime/internal/config"
	"github.com/coreagent/runtime/internal/hookpipe"
	"github.com/coreagent/runtime/internal/identity"
	"github.com/coreagent/runtime/internal/providers"
	"github.com/coreagent/runtime/internal/signal"
	sessions "github.com/coreagent/runtime/internal/store"
	"github.com/coreagent/runtime/internal/tools"
	"github.com/coreagent/runtime/pkg/models"
)

// fakeProvider is a scripted LLMProvider: each call to Complete pops the
// next chunk batch off script, so a test can drive a multi-iteration ReAct
// loop deterministically.
type fakeProvider struct {
	name          string
	supportsTools bool
	script        [][]*providers.CompletionChunk
	calls         int
}

func (p *fakeProvider) Name() string          { return p.name }
func (p *fakeProvider) SupportsTools() bool    { return p.supportsTools }
func (p *fakeProvider) Models() []providers.Model {
	return []providers.Model{{ID: "fake-model", Name: "Fake"}}
}

func (p *fakeProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.CompletionChunk, error) {
	if p.calls >= len(p.script) {
		p.calls++
		ch := make(chan *providers.CompletionChunk, 1)
		ch <- &providers.CompletionChunk{Text: "no more script", Done: true}
		close(ch)
		return ch, nil
	}
	batch := p.script[p.calls]
	p.calls++
	ch := make(chan *providers.CompletionChunk, len(batch))
	for _, c := range batch {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func textChunk(text string) []*providers.CompletionChunk {
	return []*providers.CompletionChunk{{Text: text, Done: true, InputTokens: 10, OutputTokens: 5}}
}

func toolCallChunk(id, name string, args string) []*providers.CompletionChunk {
	return []*providers.CompletionChunk{{
		ToolCall: &models.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)},
		Done:     true,
	}}
}

func newTestSupervisor(t *testing.T, p providers.LLMProvider, handler tools.Handler) (*Supervisor, sessions.Store) {
	t.Helper()

	store := sessions.NewMemoryStore()
	classifier := signal.NewClassifier()
	noise := signal.NewNoiseFilter(config.DefaultNoiseFilterConfig(), nil)
	hooks := hookpipe.New(nil)
	router := providers.NewRouter(nil)
	router.Register(models.TierElite, p, "fake-model")
	router.Register(models.TierSpecialist, p, "fake-model")
	router.Register(models.TierUtility, p, "fake-model")

	dispatcher := tools.NewDispatcher()
	if handler != nil {
		err := dispatcher.Register(models.ToolDescriptor{
			Name:        "echo",
			Description: "echoes its input",
			Schema:      json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
			SideEffect:  models.SideEffectRead,
		}, handler)
		if err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}

	packer := agentcontext.NewPacker(agentcontext.DefaultPackOptions())
	identityReg := identity.NewRegistry(&identity.Snapshot{Name: "TestAgent"})

	sup := New(store, classifier, noise, hooks, router, dispatcher, packer, identityReg, nil, nil, nil, DefaultSupervisorConfig())
	return sup, store
}

func newTestSession(t *testing.T, store sessions.Store, id string) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:      id,
		Key:     sessions.SessionKey("agent-1", models.ChannelCLI, id),
		AgentID: "agent-1",
		Channel: models.ChannelCLI,
	}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestProcessMessage_NoiseFilterShortCircuit(t *testing.T) {
	sup, store := newTestSupervisor(t, &fakeProvider{name: "fake", supportsTools: true}, nil)
	session := newTestSession(t, store, "s1")

	result, err := sup.ProcessMessage(context.Background(), session, models.InboundMessage{
		ChannelTag:     models.ChannelCLI,
		ConversationID: "s1",
		Text:           "ok thanks now",
	}, ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Kind != ResultFiltered {
		t.Fatalf("Kind = %v, want %v", result.Kind, ResultFiltered)
	}
}

func TestProcessMessage_PlanMode(t *testing.T) {
	p := &fakeProvider{name: "fake", supportsTools: true, script: [][]*providers.CompletionChunk{
		textChunk("step 1: do the thing"),
	}}
	sup, store := newTestSupervisor(t, p, nil)
	session := newTestSession(t, store, "s2")
	session.PlanMode = true

	result, err := sup.ProcessMessage(context.Background(), session, models.InboundMessage{
		ChannelTag:     models.ChannelCLI,
		ConversationID: "s2",
		Text:           "build the new ingest pipeline",
	}, ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Kind != ResultPlan {
		t.Fatalf("Kind = %v, want %v", result.Kind, ResultPlan)
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly one completion call for a plan pass, got %d", p.calls)
	}
}

func TestProcessMessage_ReActLoop_ToolThenText(t *testing.T) {
	p := &fakeProvider{name: "fake", supportsTools: true, script: [][]*providers.CompletionChunk{
		toolCallChunk("call-1", "echo", `{"text":"hi"}`),
		textChunk("done"),
	}}
	handlerCalled := false
	sup, store := newTestSupervisor(t, p, func(ctx context.Context, args json.RawMessage) (string, error) {
		handlerCalled = true
		return "hi", nil
	})
	session := newTestSession(t, store, "s3")

	result, err := sup.ProcessMessage(context.Background(), session, models.InboundMessage{
		ChannelTag:     models.ChannelCLI,
		ConversationID: "s3",
		Text:           "run the deploy script now",
	}, ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Kind != ResultText {
		t.Fatalf("Kind = %v, want %v", result.Kind, ResultText)
	}
	if result.Text != "done" {
		t.Fatalf("Text = %q, want %q", result.Text, "done")
	}
	if !handlerCalled {
		t.Fatal("expected the echo tool handler to be invoked")
	}
	if session.IterationCount != 1 {
		t.Fatalf("IterationCount = %d, want 1", session.IterationCount)
	}
}

func TestProcessMessage_DoomLoopGuard(t *testing.T) {
	failing := toolCallChunk("call-x", "echo", `{"text":"bad"}`)
	p := &fakeProvider{name: "fake", supportsTools: true, script: [][]*providers.CompletionChunk{
		failing, failing, failing, failing,
	}}
	sup, store := newTestSupervisor(t, p, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", errToolFailure
	})
	session := newTestSession(t, store, "s4")

	result, err := sup.ProcessMessage(context.Background(), session, models.InboundMessage{
		ChannelTag:     models.ChannelCLI,
		ConversationID: "s4",
		Text:           "run the deploy script now",
	}, ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Kind != ResultError {
		t.Fatalf("Kind = %v, want %v", result.Kind, ResultError)
	}
	var loopErr *LoopError
	if !asLoopError(result.Err, &loopErr) {
		t.Fatalf("Err = %v, want a *LoopError", result.Err)
	}
	if loopErr.Phase != PhaseToolDispatching {
		t.Fatalf("Phase = %v, want %v", loopErr.Phase, PhaseToolDispatching)
	}
	// The guard trips on the 3rd consecutive failure, so only 3 of the 4
	// scripted completions are ever consumed.
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestProcessMessage_MaxIterations(t *testing.T) {
	// Every completion asks for a tool call that succeeds, so the loop never
	// terminates on its own and must hit the utility tier's iteration cap.
	call := toolCallChunk("call-y", "echo", `{"text":"ok"}`)
	script := make([][]*providers.CompletionChunk, 0, 11)
	for i := 0; i < 11; i++ {
		script = append(script, call)
	}
	p := &fakeProvider{name: "fake", supportsTools: true, script: script}
	sup, store := newTestSupervisor(t, p, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "ok", nil
	})
	session := newTestSession(t, store, "s5")

	result, err := sup.ProcessMessage(context.Background(), session, models.InboundMessage{
		ChannelTag:     models.ChannelCLI,
		ConversationID: "s5",
		Text:           "ok",
	}, ProcessOptions{Tier: models.TierUtility})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Kind != ResultError {
		t.Fatalf("Kind = %v, want %v", result.Kind, ResultError)
	}
	var loopErr *LoopError
	if !asLoopError(result.Err, &loopErr) {
		t.Fatalf("Err = %v, want a *LoopError", result.Err)
	}
	if loopErr.Phase != PhaseContinue {
		t.Fatalf("Phase = %v, want %v", loopErr.Phase, PhaseContinue)
	}
}

func TestProcessMessage_PreToolUseHookBlocks(t *testing.T) {
	p := &fakeProvider{name: "fake", supportsTools: true, script: [][]*providers.CompletionChunk{
		toolCallChunk("call-1", "echo", `{"text":"hi"}`),
		textChunk("done"),
	}}
	handlerCalled := false
	sup, store := newTestSupervisor(t, p, func(ctx context.Context, args json.RawMessage) (string, error) {
		handlerCalled = true
		return "hi", nil
	})
	sup.hooks.Register(models.HookPreToolUse, "deny-all", 0, func(ctx context.Context, payload any) hookpipe.Result {
		return hookpipe.BlockResult("tool use disabled in test")
	})
	session := newTestSession(t, store, "s6")

	result, err := sup.ProcessMessage(context.Background(), session, models.InboundMessage{
		ChannelTag:     models.ChannelCLI,
		ConversationID: "s6",
		Text:           "run the deploy script now",
	}, ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Kind != ResultText {
		t.Fatalf("Kind = %v, want %v", result.Kind, ResultText)
	}
	if handlerCalled {
		t.Fatal("tool handler should not run once pre_tool_use blocks it")
	}
}

func TestDeriveTier(t *testing.T) {
	cases := []struct {
		weight float64
		want   models.Tier
	}{
		{0.9, models.TierElite},
		{0.6, models.TierElite},
		{0.45, models.TierSpecialist},
		{0.3, models.TierSpecialist},
		{0.1, models.TierUtility},
	}
	for _, tc := range cases {
		got := deriveTier(models.Signal{Weight: tc.weight})
		if got != tc.want {
			t.Errorf("deriveTier(weight=%.2f) = %v, want %v", tc.weight, got, tc.want)
		}
	}
}

// errToolFailure is a sentinel used only to make the doom-loop test's
// handler error distinguishable in failure output.
var errToolFailure = toolFailureError{}

type toolFailureError struct{}

func (toolFailureError) Error() string { return "tool handler deliberately failed" }

// asLoopError is a small errors.As wrapper kept local to this test file so
// the table-driven assertions above stay terse.
func asLoopError(err error, target **LoopError) bool {
	le, ok := err.(*LoopError)
	if !ok {
		return false
	}
	*target = le
	return true
}
