package models

import "time"

// AgentEventType identifies a single tick in the loop's internal telemetry
// stream. This is a finer-grained, implementation-level stream than the
// Event Bus envelope (EventKind, above): every model delta and tool stdout
// chunk gets one of these, while the bus only sees coarse lifecycle events.
type AgentEventType string

const (
	AgentEventRunStarted     AgentEventType = "run.started"
	AgentEventRunFinished    AgentEventType = "run.finished"
	AgentEventRunError       AgentEventType = "run.error"
	AgentEventRunCancelled   AgentEventType = "run.cancelled"
	AgentEventRunTimedOut    AgentEventType = "run.timed_out"
	AgentEventIterStarted    AgentEventType = "iter.started"
	AgentEventIterFinished   AgentEventType = "iter.finished"
	AgentEventModelDelta     AgentEventType = "model.delta"
	AgentEventModelCompleted AgentEventType = "model.completed"
	AgentEventToolStarted    AgentEventType = "tool.started"
	AgentEventToolStdout     AgentEventType = "tool.stdout"
	AgentEventToolStderr     AgentEventType = "tool.stderr"
	AgentEventToolFinished   AgentEventType = "tool.finished"
	AgentEventToolTimedOut   AgentEventType = "tool.timed_out"
	AgentEventContextPacked  AgentEventType = "context.packed"
)

// AgentEvent is one entry in the loop's telemetry stream: sequenced,
// versioned, and cheap enough to emit on every model delta or tool chunk.
type AgentEvent struct {
	Version   int            `json:"version"`
	Type      AgentEventType `json:"type"`
	Time      time.Time      `json:"time"`
	Sequence  uint64         `json:"sequence"`
	RunID     string         `json:"run_id"`
	TurnIndex int            `json:"turn_index"`
	IterIndex int            `json:"iter_index"`

	Stats   *StatsEventPayload   `json:"stats,omitempty"`
	Error   *ErrorEventPayload   `json:"error,omitempty"`
	Stream  *StreamEventPayload  `json:"stream,omitempty"`
	Tool    *ToolEventPayload    `json:"tool,omitempty"`
	Context *ContextEventPayload `json:"context,omitempty"`
}

// StatsEventPayload carries accumulated run statistics.
type StatsEventPayload struct {
	Run *RunStats `json:"run,omitempty"`
}

// ErrorEventPayload describes a run- or tool-level failure.
type ErrorEventPayload struct {
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
	Err       error  `json:"-"`
}

// StreamEventPayload carries streaming LLM output and, on completion, usage.
type StreamEventPayload struct {
	Delta        string `json:"delta,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// ToolEventPayload carries per-call tool execution telemetry.
type ToolEventPayload struct {
	CallID     string        `json:"call_id"`
	Name       string        `json:"name"`
	ArgsJSON   []byte        `json:"args_json,omitempty"`
	Chunk      string        `json:"chunk,omitempty"`
	Success    bool          `json:"success,omitempty"`
	ResultJSON []byte        `json:"result_json,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
}

// ContextEventPayload carries Context Builder packing diagnostics.
type ContextEventPayload struct {
	Dropped      int `json:"dropped"`
	KeptMessages int `json:"kept_messages"`
	InputTokens  int `json:"input_tokens"`
	BudgetTokens int `json:"budget_tokens"`
}

// RunStats accumulates per-run statistics from the AgentEvent stream.
type RunStats struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	WallTime      time.Duration `json:"wall_time"`
	Iters         int           `json:"iters"`
	ToolCalls     int           `json:"tool_calls"`
	ToolTimeouts  int           `json:"tool_timeouts"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	ModelWallTime time.Duration `json:"model_wall_time"`
	ToolWallTime  time.Duration `json:"tool_wall_time"`
	ContextPacks  int           `json:"context_packs"`
	DroppedItems  int           `json:"dropped_items"`
	Errors        int           `json:"errors"`
	Cancelled     bool          `json:"cancelled"`
	TimedOut      bool          `json:"timed_out"`
}
