package hooks

import (
	"reflect"
	"sync"
)

// UseRef returns a pointer that survives across renders. init runs on the
// first render only.
func UseRef[T any](h *H, init func() T) *T {
	v := h.slot("ref:"+reflect.TypeFor[T]().String(), func() any {
		value := init()
		return &value
	})
	return v.(*T)
}

// Setter replaces a state value and schedules the owning observer to render on
// the next tick. Setters are safe for concurrent use and do nothing once the
// observer has been torn down.
type Setter[T any] func(T)

type stateCell[T any] struct {
	mu    sync.Mutex
	value T
	set   Setter[T]
}

// UseState returns the current value of a state slot and its setter.
func UseState[T any](h *H, initial T) (T, Setter[T]) {
	return UseStateWith(h, func() T { return initial })
}

// UseStateWith is UseState with a lazily computed initial value.
func UseStateWith[T any](h *H, init func() T) (T, Setter[T]) {
	observer, n := h.observer, h.node
	v := h.slot("state:"+reflect.TypeFor[T]().String(), func() any {
		cell := &stateCell[T]{value: init()}
		cell.set = func(value T) {
			if n.torn.Load() || observer.torn.Load() {
				return
			}
			cell.mu.Lock()
			cell.value = value
			cell.mu.Unlock()
			observer.dirty.Store(true)
		}
		return cell
	})
	cell := v.(*stateCell[T])
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.value, cell.set
}

type frameSlot struct {
	fn func(FrameEvent)
}

// UseFrame registers fn to run once per tick while the observer is mounted.
// The callback from the most recent render is the one that runs.
func UseFrame(h *H, fn func(FrameEvent)) {
	v := h.slot("frame", func() any { return &frameSlot{} })
	v.(*frameSlot).fn = fn
}

type cleanupSlot struct {
	fn func()
}

// UseCleanup registers fn to run once when the observer, or the keyed child
// that called it, is torn down. The callback from the most recent render is
// the one that runs.
func UseCleanup(h *H, fn func()) {
	v := h.slot("cleanup", func() any { return &cleanupSlot{} })
	v.(*cleanupSlot).fn = fn
}
