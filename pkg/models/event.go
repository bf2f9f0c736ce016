package models

import "time"

// EventKind identifies an event-bus lifecycle event.
type EventKind string

const (
	EventToolCall        EventKind = "tool_call"
	EventLLMResponse     EventKind = "llm_response"
	EventAgentResponse   EventKind = "agent_response"
	EventHookBlocked     EventKind = "hook_blocked"
	EventContextPressure EventKind = "context_pressure"
	EventSessionStart    EventKind = "session_start"
	EventSessionEnd      EventKind = "session_end"
)

// Event is the envelope emitted on the Event Bus. Exactly one payload field
// is populated, matching Kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	ToolCall        *ToolCallEvent        `json:"tool_call,omitempty"`
	LLMResponse     *LLMResponseEvent     `json:"llm_response,omitempty"`
	AgentResponse   *AgentResponseEvent   `json:"agent_response,omitempty"`
	HookBlocked     *HookBlockedEvent     `json:"hook_blocked,omitempty"`
	ContextPressure *ContextPressureEvent `json:"context_pressure,omitempty"`
}

// ToolCallPhase distinguishes the two tool_call events the loop emits per call.
type ToolCallPhase string

const (
	ToolCallPhaseStart ToolCallPhase = "start"
	ToolCallPhaseEnd   ToolCallPhase = "end"
)

// ToolCallEvent is the tool_call event payload (§6).
type ToolCallEvent struct {
	Name       string          `json:"name"`
	Phase      ToolCallPhase   `json:"phase"`
	Args       string          `json:"args,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	OK         *bool           `json:"ok,omitempty"`
}

// LLMResponseEvent is the llm_response event payload (§6).
type LLMResponseEvent struct {
	Usage Usage `json:"usage"`
}

// AgentResponseEvent is the agent_response event payload (§6).
type AgentResponseEvent struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Signal    *Signal `json:"signal,omitempty"`
	Usage     Usage   `json:"usage"`
	Filtered  bool    `json:"filtered,omitempty"`
}

// HookBlockedEvent is the hook_blocked event payload (§6).
type HookBlockedEvent struct {
	Event    HookKind `json:"event"`
	HookName string   `json:"hook_name"`
	Reason   string   `json:"reason"`
}

// ContextPressureEvent is the context_pressure event payload (§6).
type ContextPressureEvent struct {
	BeforeTokens int `json:"before_tokens"`
	AfterTokens  int `json:"after_tokens"`
	Saved        int `json:"saved"`
}
