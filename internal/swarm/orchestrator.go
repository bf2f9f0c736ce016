package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreagent/runtime/pkg/models"
)

// Worker executes one role's turn of a swarm run. It receives the roles it
// declared a dependency on via the mailbox (mailbox.From(role.DependsOn...))
// and must post its own result before returning so later waves can read it.
type Worker func(ctx context.Context, role models.RolePreset, mailbox *Mailbox) (models.WorkerResult, error)

// Orchestrator runs a Preset's roles in dependency-ordered waves, bounding
// parallelism within a wave and distinguishing lead-role failure (fails the
// whole swarm) from non-lead failure (marked failed, run continues).
type Orchestrator struct {
	logger         *slog.Logger
	maxParallelism int
}

// NewOrchestrator builds an orchestrator. maxParallelism <= 0 means
// unbounded parallelism within a wave.
func NewOrchestrator(logger *slog.Logger, maxParallelism int) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger, maxParallelism: maxParallelism}
}

// Run executes preset's roles against work, returning the merged outcome.
// A lead role's failure aborts remaining waves immediately; a non-lead
// role's failure is recorded and the swarm continues.
func (o *Orchestrator) Run(ctx context.Context, swarmID string, preset models.Preset, work Worker) (models.SwarmResult, error) {
	waves, err := computeWaves(preset.Roles)
	if err != nil {
		return models.SwarmResult{}, err
	}

	mailbox := NewMailbox()
	result := models.SwarmResult{SwarmID: swarmID}

	for waveIdx, wave := range waves {
		waveResults, leadFailed := o.runWave(ctx, wave, mailbox, work)
		result.Results = append(result.Results, waveResults...)

		for _, wr := range waveResults {
			if wr.Failed {
				result.FailedRoles = append(result.FailedRoles, wr.Role)
			}
		}

		if leadFailed {
			result.SwarmFailed = true
			o.logger.Error("swarm aborted: lead role failed", "swarm_id", swarmID, "wave", waveIdx)
			break
		}
	}

	result.Synthesis = o.synthesize(ctx, preset, result, mailbox, work)
	return result, nil
}

// synthesize produces the swarm's final merged result. Per the lead-role
// contract, a role marked Lead gets one more invocation over the completed
// mailbox transcript to author the synthesis itself; only when the preset
// has no lead role, the swarm failed outright, or the lead's own synthesis
// call errors does this fall back to plain concatenation of worker output.
func (o *Orchestrator) synthesize(ctx context.Context, preset models.Preset, result models.SwarmResult, mailbox *Mailbox, work Worker) string {
	if !result.SwarmFailed {
		if lead, ok := leadRole(preset); ok {
			synthResult, err := work(ctx, lead, mailbox)
			if err == nil && !synthResult.Failed {
				return synthResult.Text
			}
			o.logger.Warn("lead synthesis failed, falling back to concatenation",
				"role", lead.Role, "error", err)
		}
	}
	return concatenateResults(result.Results)
}

// leadRole returns the preset's lead role, if it declares one.
func leadRole(preset models.Preset) (models.RolePreset, bool) {
	for _, role := range preset.Roles {
		if role.Lead {
			return role, true
		}
	}
	return models.RolePreset{}, false
}

// runWave executes every role in a wave concurrently, bounded by
// maxParallelism, and reports whether any lead role in the wave failed.
func (o *Orchestrator) runWave(ctx context.Context, wave []models.RolePreset, mailbox *Mailbox, work Worker) ([]models.WorkerResult, bool) {
	results := make([]models.WorkerResult, len(wave))

	var sem chan struct{}
	if o.maxParallelism > 0 {
		sem = make(chan struct{}, o.maxParallelism)
	}

	var wg sync.WaitGroup
	for i, role := range wave {
		wg.Add(1)
		go func(i int, role models.RolePreset) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i] = o.runWorker(ctx, role, mailbox, work)
		}(i, role)
	}
	wg.Wait()

	leadFailed := false
	for i, role := range wave {
		if role.Lead && results[i].Failed {
			leadFailed = true
		}
	}
	return results, leadFailed
}

func (o *Orchestrator) runWorker(ctx context.Context, role models.RolePreset, mailbox *Mailbox, work Worker) models.WorkerResult {
	result, err := work(ctx, role, mailbox)
	if err != nil {
		result = models.WorkerResult{Role: role.Role, Failed: true, Err: err.Error()}
		o.logger.Warn("swarm worker failed", "role", role.Role, "error", err)
	}
	if result.Role == "" {
		result.Role = role.Role
	}

	mailbox.Post(models.MailboxEntry{
		Author:    role.Role,
		Text:      entryText(result),
		Timestamp: time.Now(),
	})
	return result
}

func entryText(r models.WorkerResult) string {
	if r.Failed {
		return fmt.Sprintf("[failed] %s", r.Err)
	}
	return r.Text
}

// concatenateResults builds a simple merged summary of every non-failed
// worker's output. Used when no lead role exists to author a real synthesis.
func concatenateResults(results []models.WorkerResult) string {
	var out string
	for _, r := range results {
		if r.Failed {
			continue
		}
		out += fmt.Sprintf("## %s\n%s\n\n", r.Role, r.Text)
	}
	return out
}
