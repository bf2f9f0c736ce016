// Package models provides the domain types shared across the agent runtime:
// channel messages, session turns, signals, tool and provider descriptors,
// hook entries, and swarm/mailbox records.
package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies the messaging platform a session is bound to.
// Concrete adapters (Telegram, Discord, Slack, WhatsApp, HTTP/SSE, CLI REPL)
// live outside this module; only the tag travels with the session.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelHTTP     ChannelType = "http"
	ChannelCLI      ChannelType = "cli"
)

// Direction indicates whether a message travels into or out of the core.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role identifies the author of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// InboundMessage is what a channel adapter hands to the core via deliver().
// Session id derivation (channel_conversation_user) is the core's job, not
// the adapter's.
type InboundMessage struct {
	ChannelTag     ChannelType    `json:"channel_tag"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Text           string         `json:"text"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OutboundMessage is what the core passes to a channel's send() callback.
type OutboundMessage struct {
	ConversationID string         `json:"conversation_id"`
	Text           string         `json:"text"`
	Options        map[string]any `json:"options,omitempty"`
}

// ToolCall is an LLM's request to invoke a named tool with JSON arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of dispatching a ToolCall.
type ToolResult struct {
	ToolCallID  string       `json:"tool_call_id"`
	Text        string       `json:"text,omitempty"`
	Error       string       `json:"error,omitempty"`
	IsError     bool         `json:"is_error,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a media reference (typically an image) carried alongside a
// message or tool result for vision-capable models. The core never fetches
// or stores attachment bytes itself; URL/Filename are opaque to it.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"` // "image", "file", "video", "audio"
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is one immutable entry in a session branch's ordered conversation
// log (the spec's "Turn"). Exactly one of Content, ToolCalls, or ToolResults
// is meaningful depending on Role; all are preserved for audit purposes. A
// single tool-result message can batch results for several tool calls
// issued in the same assistant turn, so ToolResults is a slice. SessionID,
// BranchID, and SequenceNum place the message in the store's append-only
// log; Channel/ChannelID/Direction mirror the originating InboundMessage or
// OutboundMessage for reconstruction and audit.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	BranchID    string         `json:"branch_id,omitempty"`
	SequenceNum int64          `json:"sequence_num"`
	Channel     ChannelType    `json:"channel,omitempty"`
	ChannelID   string         `json:"channel_id,omitempty"`
	Direction   Direction      `json:"direction,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Session is the unit of conversational state. Exactly one loop actor owns
// a live session; all mutation flows through that actor. Key is the
// derived lookup key (see SessionKey); AgentID scopes a session to the
// swarm member that owns it.
type Session struct {
	ID             string          `json:"id"`
	Key            string          `json:"key"`
	AgentID        string          `json:"agent_id,omitempty"`
	Channel        ChannelType     `json:"channel"`
	ChannelID      string          `json:"channel_id"`
	Title          string          `json:"title,omitempty"`
	History        []*Message      `json:"-"` // loaded/appended via the store, not serialized inline
	PlanMode       bool            `json:"plan_mode"`
	Settings       SessionSettings `json:"settings"`
	IterationCount int             `json:"iteration_count"`
	CachedSignal   *Signal         `json:"cached_signal,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SessionSettings holds per-session tunables that survive compaction.
type SessionSettings struct {
	Verbose        bool `json:"verbose"`
	ReasoningDepth int  `json:"reasoning_depth"`
}

// SessionKey derives the canonical session lookup key for a (channel,
// conversation) pair, optionally scoped to an owning agent. The core owns
// this derivation; adapters never compute it.
func SessionKey(agentID string, channel ChannelType, channelID string) string {
	if agentID == "" {
		return string(channel) + ":" + channelID
	}
	return agentID + ":" + string(channel) + ":" + channelID
}
