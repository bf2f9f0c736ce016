// Package tools implements the Tool Dispatcher: an atomically-swapped tool
// registry plus bounded, timeout-guarded execution of a single tool call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/coreagent/runtime/pkg/models"
)

// Handler executes one tool call and returns its result. Implementations
// are registered under a ToolDescriptor and must be safe for concurrent
// invocation: the dispatcher may call the same handler from many sessions
// at once.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

type entry struct {
	descriptor models.ToolDescriptor
	schema     *jsonschema.Schema
	handler    Handler
}

// registry is the immutable snapshot swapped atomically by Register/Unregister.
type registry map[string]entry

// Dispatcher holds the tool registry and dispatch policy. The registry is
// replaced wholesale on every mutation (copy-on-write) so in-flight
// dispatches never observe a half-updated map.
type Dispatcher struct {
	reg            atomic.Pointer[registry]
	timeout        time.Duration
	maxResultBytes int
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithTimeout bounds how long a single tool call may run.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithMaxResultBytes caps the size of a tool result's text before
// truncation. 0 disables truncation.
func WithMaxResultBytes(n int) Option {
	return func(disp *Dispatcher) { disp.maxResultBytes = n }
}

// NewDispatcher returns a Dispatcher with an empty registry.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{timeout: 30 * time.Second}
	empty := registry{}
	d.reg.Store(&empty)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds or replaces a tool. The descriptor's JSON schema is
// compiled once at registration time so a malformed schema fails fast
// instead of on every call.
func (d *Dispatcher) Register(descriptor models.ToolDescriptor, handler Handler) error {
	compiled, err := compileSchema(descriptor.Name, descriptor.Schema)
	if err != nil {
		return fmt.Errorf("tools: register %q: %w", descriptor.Name, err)
	}

	for {
		old := d.reg.Load()
		next := make(registry, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[descriptor.Name] = entry{descriptor: descriptor, schema: compiled, handler: handler}
		if d.reg.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// Unregister removes a tool if present.
func (d *Dispatcher) Unregister(name string) {
	for {
		old := d.reg.Load()
		if _, ok := (*old)[name]; !ok {
			return
		}
		next := make(registry, len(*old)-1)
		for k, v := range *old {
			if k != name {
				next[k] = v
			}
		}
		if d.reg.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Descriptors returns every registered tool's descriptor, for inclusion in
// a CompletionRequest.
func (d *Dispatcher) Descriptors() []models.ToolDescriptor {
	reg := *d.reg.Load()
	out := make([]models.ToolDescriptor, 0, len(reg))
	for _, e := range reg {
		out = append(out, e.descriptor)
	}
	return out
}

// Lookup reports whether name is registered, without dispatching.
func (d *Dispatcher) Lookup(name string) (models.ToolDescriptor, bool) {
	reg := *d.reg.Load()
	e, ok := reg[name]
	return e.descriptor, ok
}

// Dispatch validates call.Arguments against the registered schema, runs the
// handler under the dispatcher's timeout, and truncates an oversized result.
// An unknown tool name or schema violation is reported as a models.ToolResult
// with IsError=true rather than a Go error, since it's a normal outcome the
// loop feeds back to the model.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	reg := *d.reg.Load()
	e, ok := reg[call.Name]
	if !ok {
		return errorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name))
	}

	if e.schema != nil {
		var decoded any
		if err := json.Unmarshal(call.Arguments, &decoded); err != nil {
			return errorResult(call.ID, fmt.Sprintf("invalid arguments: %v", err))
		}
		if err := e.schema.Validate(decoded); err != nil {
			return errorResult(call.ID, fmt.Sprintf("arguments do not match schema: %v", err))
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	text, err := runHandler(callCtx, e.handler, call.Arguments)
	if err != nil {
		return errorResult(call.ID, err.Error())
	}

	truncated := false
	if d.maxResultBytes > 0 && len(text) > d.maxResultBytes {
		text = text[:d.maxResultBytes] + "\n...[truncated]"
		truncated = true
	}

	return models.ToolResult{ToolCallID: call.ID, Text: text, Truncated: truncated}
}

// runHandler recovers a panicking handler so one bad tool can't take down
// the session loop.
func runHandler(ctx context.Context, handler Handler, args json.RawMessage) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err = handler(ctx, args)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func errorResult(callID, msg string) models.ToolResult {
	return models.ToolResult{ToolCallID: callID, Error: msg, IsError: true}
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return jsonschema.CompileString(name+".schema.json", string(raw))
}
