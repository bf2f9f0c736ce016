package loop

import "github.com/coreagent/runtime/pkg/models"

// Artifact is a file or media blob produced by a tool execution, before it
// is converted into a models.Attachment for inclusion in a message.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "screenshot", "recording", "file", ...
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ResponseChunk is a unit of the loop's streaming output to its caller:
// text deltas, a finished tool result, or a terminal error. Exactly one
// field is populated.
type ResponseChunk struct {
	Text       string             `json:"text,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Error      error              `json:"-"`
	Artifacts  []Artifact         `json:"artifacts,omitempty"`
}
