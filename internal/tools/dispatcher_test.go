package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coreagent/runtime/pkg/models"
)

func echoDescriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        "echo",
		Description: "echoes the provided text",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		SideEffect: models.SideEffectRead,
	}
}

func TestDispatchSuccess(t *testing.T) {
	d := NewDispatcher()
	if err := d.Register(echoDescriptor(), func(_ context.Context, args json.RawMessage) (string, error) {
		var in struct{ Text string `json:"text"` }
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		return in.Text, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := d.Dispatch(context.Background(), models.ToolCall{
		ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Error)
	}
	if result.Text != "hi" {
		t.Fatalf("got %q, want %q", result.Text, "hi")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher()
	result := d.Dispatch(context.Background(), models.ToolCall{ID: "x", Name: "missing"})
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
}

func TestDispatchSchemaViolation(t *testing.T) {
	d := NewDispatcher()
	_ = d.Register(echoDescriptor(), func(_ context.Context, _ json.RawMessage) (string, error) {
		return "unreachable", nil
	})

	result := d.Dispatch(context.Background(), models.ToolCall{
		ID: "call-2", Name: "echo", Arguments: json.RawMessage(`{}`),
	})
	if !result.IsError {
		t.Fatal("expected schema validation to fail for missing required field")
	}
}

func TestDispatchTruncatesOversizedResult(t *testing.T) {
	d := NewDispatcher(WithMaxResultBytes(10))
	_ = d.Register(echoDescriptor(), func(_ context.Context, _ json.RawMessage) (string, error) {
		return strings.Repeat("a", 100), nil
	})

	result := d.Dispatch(context.Background(), models.ToolCall{
		ID: "call-3", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	if !result.Truncated {
		t.Fatal("expected result to be marked truncated")
	}
	if !strings.HasPrefix(result.Text, strings.Repeat("a", 10)) {
		t.Fatalf("truncated text should retain the head: %q", result.Text)
	}
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(WithTimeout(10 * time.Millisecond))
	_ = d.Register(echoDescriptor(), func(ctx context.Context, _ json.RawMessage) (string, error) {
		select {
		case <-time.After(time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	result := d.Dispatch(context.Background(), models.ToolCall{
		ID: "call-4", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	if !result.IsError {
		t.Fatal("expected timeout to surface as an error result")
	}
}

func TestUnregisterRemovesTool(t *testing.T) {
	d := NewDispatcher()
	_ = d.Register(echoDescriptor(), func(_ context.Context, _ json.RawMessage) (string, error) {
		return "ok", nil
	})
	d.Unregister("echo")

	if _, ok := d.Lookup("echo"); ok {
		t.Fatal("expected echo to be unregistered")
	}
}
