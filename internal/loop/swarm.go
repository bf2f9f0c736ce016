package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coreagent/runtime/internal/swarm"
	"github.com/coreagent/runtime/pkg/models"
)

// delegateToolName is the built-in tool the Session Loop registers once a
// swarm orchestrator is attached. A model decomposing a request into
// parallelizable subtasks (§4.9) calls it like any other tool; the handler
// is the "caller" that actually invokes the Swarm Orchestrator.
const delegateToolName = "delegate_to_swarm"

// sessionCtxKey stashes the in-flight session on the context so the
// delegate_to_swarm tool handler -- which only receives (ctx, args) like
// every other tool -- can reach the session that triggered it, following
// the same context-value pattern steering.go already uses for per-request
// values (thinking level, resolved API key).
type sessionCtxKey struct{}

func withSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, session)
}

func sessionFromContext(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(sessionCtxKey{}).(*models.Session)
	return session, ok
}

// EnableSwarm attaches a Swarm Orchestrator to the loop and registers
// delegate_to_swarm as a dispatchable tool, so the model itself makes the
// decomposability decision §4.9 describes ("invoked when the Loop ...
// decides a task decomposes into parallelizable subtasks") by choosing to
// call the tool, rather than the loop running a hardcoded heuristic. preset
// is registered under its Name for lookup by both the tool and RunSwarm.
func (s *Supervisor) EnableSwarm(orchestrator *swarm.Orchestrator, presets ...models.Preset) error {
	s.swarm = orchestrator
	if s.presets == nil {
		s.presets = make(map[string]models.Preset, len(presets))
	}
	for _, p := range presets {
		s.presets[p.Name] = p
	}

	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}

	return s.dispatcher.Register(models.ToolDescriptor{
		Name: delegateToolName,
		Description: "Delegate the current task to a preset swarm of role-specialized " +
			"sub-agents when it decomposes into parallelizable subtasks. Available presets: " +
			strings.Join(names, ", "),
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"preset": {"type": "string", "description": "Registered swarm preset name"},
				"task": {"type": "string", "description": "The subtask description handed to every role"}
			},
			"required": ["preset", "task"]
		}`),
		SideEffect: models.SideEffectRead,
	}, s.handleDelegateToSwarm)
}

func (s *Supervisor) handleDelegateToSwarm(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Preset string `json:"preset"`
		Task   string `json:"task"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("delegate_to_swarm: invalid arguments: %w", err)
	}
	session, ok := sessionFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("delegate_to_swarm: no session in context")
	}

	result, err := s.RunSwarm(ctx, session, req.Preset, req.Task)
	if err != nil {
		return "", err
	}
	if result.SwarmFailed {
		return "", fmt.Errorf("swarm %q failed: lead role did not complete", req.Preset)
	}
	return result.Synthesis, nil
}

// RunSwarm is the Swarm Orchestrator's caller-facing entry point (the "(or
// a caller)" alternative in §4.9): it can be invoked directly by an
// embedder that already knows a request decomposes, bypassing the
// delegate_to_swarm tool entirely. Each role in preset runs as its own
// nested ProcessMessage call against a scratch sub-session keyed off the
// parent session, seeded with the role's system prompt, the shared task,
// and -- once its declared dependencies have posted -- their mailbox
// entries as extra context.
func (s *Supervisor) RunSwarm(ctx context.Context, session *models.Session, presetName, task string) (models.SwarmResult, error) {
	if s.swarm == nil {
		return models.SwarmResult{}, fmt.Errorf("swarm orchestrator not configured")
	}
	preset, ok := s.presets[presetName]
	if !ok {
		return models.SwarmResult{}, fmt.Errorf("unknown swarm preset %q", presetName)
	}

	swarmID := uuid.NewString()
	work := func(ctx context.Context, role models.RolePreset, mailbox *swarm.Mailbox) (models.WorkerResult, error) {
		return s.runSwarmRole(ctx, session, role, task, mailbox)
	}
	return s.swarm.Run(ctx, swarmID, preset, work)
}

func (s *Supervisor) runSwarmRole(ctx context.Context, parent *models.Session, role models.RolePreset, task string, mailbox *swarm.Mailbox) (models.WorkerResult, error) {
	roleSession := &models.Session{
		ID:        parent.ID + ":" + string(role.Role) + ":" + uuid.NewString()[:8],
		AgentID:   parent.AgentID,
		Channel:   parent.Channel,
		ChannelID: parent.ChannelID,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, roleSession); err != nil {
		return models.WorkerResult{}, fmt.Errorf("create role session: %w", err)
	}

	prompt := task
	if deps := mailbox.From(role.DependsOn...); len(deps) > 0 {
		var b strings.Builder
		b.WriteString(task)
		b.WriteString("\n\nContext from upstream roles:\n")
		for _, entry := range deps {
			fmt.Fprintf(&b, "[%s] %s\n", entry.Author, entry.Text)
		}
		prompt = b.String()
	}

	result, err := s.ProcessMessage(ctx, roleSession, models.InboundMessage{
		ChannelTag:     parent.Channel,
		ConversationID: roleSession.ID,
		Text:           strings.TrimSpace(role.SystemPrompt + "\n\n" + prompt),
	}, ProcessOptions{Tier: role.Tier, SkipPlan: true})
	if err != nil {
		return models.WorkerResult{}, err
	}
	if result.Kind == ResultError {
		return models.WorkerResult{}, result.Err
	}
	return models.WorkerResult{Role: role.Role, Text: result.Text}, nil
}
