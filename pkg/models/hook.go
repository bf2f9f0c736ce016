package models

// HookKind enumerates the lifecycle points the hook pipeline and event bus
// can be wired to. pre_* kinds are synchronous and block the loop; post_*
// kinds may be dispatched asynchronously.
type HookKind string

const (
	HookPreToolUse     HookKind = "pre_tool_use"
	HookPostToolUse    HookKind = "post_tool_use"
	HookPreLLM         HookKind = "pre_llm"
	HookPostLLM        HookKind = "post_llm"
	HookPreResponse    HookKind = "pre_response"
	HookPostResponse   HookKind = "post_response"
	HookSessionStart   HookKind = "session_start"
	HookSessionEnd     HookKind = "session_end"
	HookContextPressure HookKind = "context_pressure"
	HookToolError      HookKind = "tool_error"
	HookBudgetExceeded HookKind = "budget_exceeded"
	HookPlanProposed   HookKind = "plan_proposed"
	HookBlocked        HookKind = "hook_blocked"
)

// HookEntry is the registered shape of a hook pipeline handler.
type HookEntry struct {
	Kind     HookKind `json:"kind"`
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
}
