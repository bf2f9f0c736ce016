package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/coreagent/runtime/pkg/models"
)

// Registry manages handler registrations and event dispatch.
type Registry struct {
	handlers map[models.EventKind][]*Registration
	byID     map[string]*Registration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[models.EventKind][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "bus"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName sets the handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource sets the handler source (plugin name, swarm worker id, etc).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Register adds a handler for an EventKind and returns its registration id.
func (r *Registry) Register(eventKey models.EventKind, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.NewString(),
		EventKey: eventKey,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[eventKey] = append(r.handlers[eventKey], reg)
	r.byID[reg.ID] = reg
	sort.SliceStable(r.handlers[eventKey], func(i, j int) bool {
		return r.handlers[eventKey][i].Priority < r.handlers[eventKey][j].Priority
	})

	r.logger.Debug("registered handler", "id", reg.ID, "event_kind", eventKey, "name", reg.Name, "priority", reg.Priority)
	return reg.ID
}

// Unregister removes a handler by its registration id.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.byID[id]
	if !exists {
		return false
	}
	delete(r.byID, id)

	handlers := r.handlers[reg.EventKey]
	for i, h := range handlers {
		if h.ID == id {
			r.handlers[reg.EventKey] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes all registered handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[models.EventKind][]*Registration)
	r.byID = make(map[string]*Registration)
}

// Trigger dispatches an event to all handlers registered for its Kind, in
// priority order. A handler error is logged and does not stop the others;
// the first error encountered is returned to the caller.
func (r *Registry) Trigger(ctx context.Context, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	r.mu.RLock()
	handlers := append([]*Registration(nil), r.handlers[event.Kind]...)
	r.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := r.callHandler(ctx, handler, event); err != nil {
			r.logger.Warn("handler error", "event_kind", event.Kind, "handler_id", handler.ID, "handler_name", handler.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Registry) callHandler(ctx context.Context, reg *Registration, event *models.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}

// TriggerAsync dispatches an event in a goroutine and returns immediately.
func (r *Registry) TriggerAsync(ctx context.Context, event *models.Event) {
	go func() {
		if err := r.Trigger(ctx, event); err != nil {
			r.logger.Warn("async trigger error", "event_kind", event.Kind, "error", err)
		}
	}()
}

// RegisteredKinds returns all EventKinds with at least one registered handler.
func (r *Registry) RegisteredKinds() []models.EventKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.EventKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// HandlerCount returns the number of handlers registered for an EventKind.
func (r *Registry) HandlerCount(eventKey models.EventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventKey])
}

// GetRegistration returns a registration by id.
func (r *Registry) GetRegistration(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	return reg, ok
}

// ListRegistrations returns all registrations for an EventKind.
func (r *Registry) ListRegistrations(eventKey models.EventKind) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := r.handlers[eventKey]
	result := make([]*Registration, len(handlers))
	copy(result, handlers)
	return result
}
