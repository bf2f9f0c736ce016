package hookpipe

import (
	"context"
	"testing"

	"github.com/coreagent/runtime/pkg/models"
)

func TestRunPreOrdersByPriorityThenRegistration(t *testing.T) {
	p := New(nil)
	var order []string

	p.Register(models.HookPreToolUse, "second", 10, func(_ context.Context, payload any) Result {
		order = append(order, "second")
		return OkResult(payload)
	})
	p.Register(models.HookPreToolUse, "first", 1, func(_ context.Context, payload any) Result {
		order = append(order, "first")
		return OkResult(payload)
	})
	p.Register(models.HookPreToolUse, "tiebreak-first", 1, func(_ context.Context, payload any) Result {
		order = append(order, "tiebreak-first")
		return OkResult(payload)
	})

	result := p.RunPre(context.Background(), models.HookPreToolUse, "payload")
	if result.Outcome != Ok {
		t.Fatalf("expected Ok, got %v (%s)", result.Outcome, result.Reason)
	}
	want := []string{"first", "tiebreak-first", "second"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunPreStopsOnBlock(t *testing.T) {
	p := New(nil)
	called := false

	p.Register(models.HookPreToolUse, "blocker", 1, func(_ context.Context, _ any) Result {
		return BlockResult("policy denied")
	})
	p.Register(models.HookPreToolUse, "never-runs", 2, func(_ context.Context, payload any) Result {
		called = true
		return OkResult(payload)
	})

	result := p.RunPre(context.Background(), models.HookPreToolUse, "payload")
	if result.Outcome != Blocked {
		t.Fatalf("expected Blocked, got %v", result.Outcome)
	}
	if called {
		t.Fatal("lower-priority handler should not run after a block")
	}
}

func TestRunPrePassesRewrittenPayload(t *testing.T) {
	p := New(nil)
	p.Register(models.HookPreToolUse, "rewriter", 1, func(_ context.Context, payload any) Result {
		return OkResult(payload.(string) + "-rewritten")
	})

	result := p.RunPre(context.Background(), models.HookPreToolUse, "payload")
	if result.Payload != "payload-rewritten" {
		t.Fatalf("got %v, want payload-rewritten", result.Payload)
	}
}

func TestRunPostAsyncReturnsImmediately(t *testing.T) {
	p := New(nil)
	done := make(chan struct{})
	p.Register(models.HookPostToolUse, "async-handler", 1, func(_ context.Context, payload any) Result {
		close(done)
		return OkResult(payload)
	})

	result := p.RunPost(context.Background(), models.HookPostToolUse, "payload", true)
	if result.Outcome != Ok {
		t.Fatalf("expected Ok for fire-and-forget dispatch, got %v", result.Outcome)
	}
	<-done
}

func TestUnregisterStopsFutureRuns(t *testing.T) {
	p := New(nil)
	called := false
	token := p.Register(models.HookPreToolUse, "h", 1, func(_ context.Context, payload any) Result {
		called = true
		return OkResult(payload)
	})
	p.Unregister(models.HookPreToolUse, token)

	p.RunPre(context.Background(), models.HookPreToolUse, "payload")
	if called {
		t.Fatal("unregistered handler should not run")
	}
}

func TestHandlerPanicBecomesErrored(t *testing.T) {
	p := New(nil)
	p.Register(models.HookPreToolUse, "panics", 1, func(_ context.Context, _ any) Result {
		panic("boom")
	})

	result := p.RunPre(context.Background(), models.HookPreToolUse, "payload")
	if result.Outcome != Errored {
		t.Fatalf("expected Errored after panic, got %v", result.Outcome)
	}
}
