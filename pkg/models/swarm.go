package models

import "time"

// SwarmRole names a worker's function within a swarm preset.
type SwarmRole string

// RolePreset describes one role in a swarm preset: its system prompt, tier,
// and declared dependencies ("after lead").
type RolePreset struct {
	Role         SwarmRole `json:"role"`
	SystemPrompt string    `json:"system_prompt"`
	Tier         Tier      `json:"tier"`
	DependsOn    []SwarmRole `json:"depends_on,omitempty"`
	Lead         bool      `json:"lead"`
}

// Preset is a named list of roles for a swarm.
type Preset struct {
	Name  string       `json:"name"`
	Roles []RolePreset `json:"roles"`
}

// MailboxEntry is one append-only record in a swarm's shared mailbox.
type MailboxEntry struct {
	Author    SwarmRole `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerResult is one role's outcome within a swarm run.
type WorkerResult struct {
	Role    SwarmRole `json:"role"`
	Text    string    `json:"text"`
	Failed  bool      `json:"failed"`
	Err     string    `json:"error,omitempty"`
}

// SwarmResult is the merged outcome of a swarm run.
type SwarmResult struct {
	SwarmID      string         `json:"swarm_id"`
	Results      []WorkerResult `json:"results"`
	FailedRoles  []SwarmRole    `json:"failed_roles,omitempty"`
	Synthesis    string         `json:"synthesis"`
	SwarmFailed  bool           `json:"swarm_failed"`
}
