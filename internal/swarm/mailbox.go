// Package swarm implements role-based multi-agent fan-out: dependency waves
// computed by topological sort, bounded parallelism per wave, and an
// append-only mailbox shared by every worker in a run.
package swarm

import (
	"sync"

	"github.com/coreagent/runtime/pkg/models"
)

// Mailbox is the append-only peer-context log shared by every worker in one
// swarm run. Entries are never rewritten or removed; a worker reads the
// entries posted before it started and appends its own when done.
type Mailbox struct {
	mu      sync.RWMutex
	entries []models.MailboxEntry
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Post appends an entry. Safe for concurrent use across wave workers.
func (m *Mailbox) Post(entry models.MailboxEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Snapshot returns a copy of every entry posted so far, in post order.
func (m *Mailbox) Snapshot() []models.MailboxEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MailboxEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// From returns entries authored by any of the given roles, in post order.
// Used by a worker to pull just its declared dependencies' output rather
// than the whole mailbox.
func (m *Mailbox) From(roles ...models.SwarmRole) []models.MailboxEntry {
	want := make(map[models.SwarmRole]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MailboxEntry
	for _, e := range m.entries {
		if want[e.Author] {
			out = append(out, e)
		}
	}
	return out
}
