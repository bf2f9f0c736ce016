package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreagent/runtime/pkg/models"
)

func newTestEvent(kind models.EventKind) *models.Event {
	return &models.Event{Kind: kind, Time: time.Now()}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil)

	called := false
	id := r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		called = true
		return nil
	})

	if id == "" {
		t.Error("expected non-empty registration ID")
	}
	if r.HandlerCount(models.EventToolCall) != 1 {
		t.Errorf("expected 1 handler, got %d", r.HandlerCount(models.EventToolCall))
	}

	if err := r.Trigger(context.Background(), newTestEvent(models.EventToolCall)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil)

	id := r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		return nil
	})

	if !r.Unregister(id) {
		t.Error("expected Unregister to return true")
	}
	if r.HandlerCount(models.EventToolCall) != 0 {
		t.Errorf("expected 0 handlers after unregister, got %d", r.HandlerCount(models.EventToolCall))
	}
	if r.Unregister(id) {
		t.Error("expected Unregister to return false for already-removed handler")
	}
}

func TestRegistry_Priority(t *testing.T) {
	r := NewRegistry(nil)

	var order []int
	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		order = append(order, 2)
		return nil
	}, WithPriority(PriorityNormal))
	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		order = append(order, 1)
		return nil
	}, WithPriority(PriorityHigh))
	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		order = append(order, 3)
		return nil
	}, WithPriority(PriorityLow))

	r.Trigger(context.Background(), newTestEvent(models.EventToolCall))

	if len(order) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(order))
	}
	if order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected order [1,2,3], got %v", order)
	}
}

func TestRegistry_ErrorHandling(t *testing.T) {
	r := NewRegistry(nil)

	expectedErr := errors.New("test error")
	var secondCalled bool

	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		return expectedErr
	}, WithPriority(PriorityHigh))
	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		secondCalled = true
		return nil
	}, WithPriority(PriorityLow))

	err := r.Trigger(context.Background(), newTestEvent(models.EventToolCall))

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if !secondCalled {
		t.Error("second handler should have been called despite first error")
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	r := NewRegistry(nil)

	var secondCalled bool
	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		panic("test panic")
	}, WithPriority(PriorityHigh))
	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		secondCalled = true
		return nil
	}, WithPriority(PriorityLow))

	err := r.Trigger(context.Background(), newTestEvent(models.EventToolCall))

	if err == nil {
		t.Error("expected error from panic")
	}
	if !secondCalled {
		t.Error("second handler should have been called despite panic")
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error { return nil })
	r.Register(models.EventSessionStart, func(ctx context.Context, e *models.Event) error { return nil })

	r.Clear()

	if len(r.RegisteredKinds()) != 0 {
		t.Errorf("expected 0 registered kinds after clear, got %d", len(r.RegisteredKinds()))
	}
}

func TestRegistry_TriggerAsync(t *testing.T) {
	r := NewRegistry(nil)

	var called atomic.Bool
	r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error {
		time.Sleep(10 * time.Millisecond)
		called.Store(true)
		return nil
	})

	r.TriggerAsync(context.Background(), newTestEvent(models.EventToolCall))

	if called.Load() {
		t.Error("handler should not have completed yet")
	}

	time.Sleep(50 * time.Millisecond)

	if !called.Load() {
		t.Error("handler should have been called")
	}
}

func TestRegistry_ListRegistrations(t *testing.T) {
	r := NewRegistry(nil)

	id := r.Register(models.EventToolCall, func(ctx context.Context, e *models.Event) error { return nil }, WithName("probe"))

	regs := r.ListRegistrations(models.EventToolCall)
	if len(regs) != 1 || regs[0].ID != id || regs[0].Name != "probe" {
		t.Errorf("unexpected registrations: %+v", regs)
	}

	reg, ok := r.GetRegistration(id)
	if !ok || reg.Name != "probe" {
		t.Error("expected to find registration by id")
	}
}
