// Package bus provides the Event Bus: fan-out of the canonical
// pkg/models.Event envelope to registered handlers, keyed by EventKind.
package bus

import (
	"context"

	"github.com/coreagent/runtime/pkg/models"
)

// Handler processes a bus event. Handlers should be fast and non-blocking;
// long-running work belongs in a goroutine the handler dispatches itself.
type Handler func(ctx context.Context, event *models.Event) error

// Priority determines the order handlers are called within an EventKind;
// lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is a single handler bound to an EventKind.
type Registration struct {
	ID       string
	EventKey models.EventKind
	Handler  Handler
	Priority Priority
	Name     string
	Source   string
}
