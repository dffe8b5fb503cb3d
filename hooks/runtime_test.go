package hooks_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/plus3/remoteworld/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountRendersImmediately(t *testing.T) {
	rt := hooks.NewRuntime()
	renders := 0
	o := rt.Mount("counter", func(h *hooks.H) {
		renders++
	})
	assert.Equal(t, 1, renders)
	assert.True(t, o.Mounted())
	assert.Equal(t, "counter", o.Name())
	assert.Equal(t, 1, rt.Len())

	rt.Tick(0.016)
	assert.Equal(t, 1, renders, "clean observers are not re-rendered")
}

func TestUseRefIsStable(t *testing.T) {
	rt := hooks.NewRuntime()
	var refs []*int
	inits := 0
	o := rt.Mount("ref", func(h *hooks.H) {
		ref := hooks.UseRef(h, func() int {
			inits++
			return 5
		})
		refs = append(refs, ref)
	})
	o.Invalidate()
	rt.Tick(0)
	o.Invalidate()
	rt.Tick(0)

	require.Len(t, refs, 3)
	assert.Same(t, refs[0], refs[1])
	assert.Same(t, refs[1], refs[2])
	assert.Equal(t, 1, inits)
	assert.Equal(t, 5, *refs[2])
}

func TestUseStateSetterSchedulesRender(t *testing.T) {
	rt := hooks.NewRuntime()
	var seen []int
	var set hooks.Setter[int]
	rt.Mount("state", func(h *hooks.H) {
		v, setter := hooks.UseState(h, 1)
		seen = append(seen, v)
		set = setter
	})

	set(2)
	assert.Equal(t, []int{1}, seen, "setters never render synchronously")
	rt.Tick(0)
	assert.Equal(t, []int{1, 2}, seen)

	set(3)
	set(4)
	rt.Tick(0)
	assert.Equal(t, []int{1, 2, 4}, seen, "writes within a tick coalesce")
}

func TestUseFrameRunsEveryTickWithLatestClosure(t *testing.T) {
	rt := hooks.NewRuntime()
	var calls []string
	label := "first"
	o := rt.Mount("frames", func(h *hooks.H) {
		current := label
		hooks.UseFrame(h, func(ev hooks.FrameEvent) {
			calls = append(calls, fmt.Sprintf("%s@%d", current, ev.Frame))
		})
	})

	rt.Tick(0)
	label = "second"
	o.Invalidate()
	rt.Tick(0)
	rt.Tick(0)

	assert.Equal(t, []string{"first@1", "first@2", "second@3"}, calls)
	assert.Equal(t, uint64(3), rt.Frame())
}

func TestFrameCallbackStateChangeRendersSameTick(t *testing.T) {
	rt := hooks.NewRuntime()
	var seen []int
	rt.Mount("ticker", func(h *hooks.H) {
		count, setCount := hooks.UseState(h, 0)
		seen = append(seen, count)
		hooks.UseFrame(h, func(ev hooks.FrameEvent) {
			setCount(int(ev.Frame))
		})
	})

	rt.Tick(0)
	rt.Tick(0)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestUnmountStopsFramesAndSetters(t *testing.T) {
	rt := hooks.NewRuntime()
	frames := 0
	renders := 0
	var set hooks.Setter[string]
	o := rt.Mount("gone", func(h *hooks.H) {
		renders++
		_, set = hooks.UseState(h, "")
		hooks.UseFrame(h, func(hooks.FrameEvent) { frames++ })
	})
	rt.Tick(0)
	o.Unmount()
	o.Unmount()

	set("late")
	rt.Tick(0)
	assert.Equal(t, 1, frames)
	assert.Equal(t, 1, renders)
	assert.False(t, o.Mounted())
	assert.Equal(t, 0, rt.Len())
}

func TestUnmountFromFrameCallback(t *testing.T) {
	rt := hooks.NewRuntime()
	var o *hooks.Observer
	after := 0
	o = rt.Mount("self", func(h *hooks.H) {
		hooks.UseFrame(h, func(hooks.FrameEvent) { o.Unmount() })
		hooks.UseFrame(h, func(hooks.FrameEvent) { after++ })
	})
	rt.Tick(0)
	assert.Equal(t, 0, after)
	assert.False(t, o.Mounted())
}

func TestHookOrderChangePanics(t *testing.T) {
	rt := hooks.NewRuntime()
	flip := false
	o := rt.Mount("flip", func(h *hooks.H) {
		if flip {
			hooks.UseFrame(h, func(hooks.FrameEvent) {})
			return
		}
		hooks.UseState(h, 0)
	})
	flip = true
	o.Invalidate()
	assert.Panics(t, func() { rt.Tick(0) })
}

func TestHookCountChangePanics(t *testing.T) {
	rt := hooks.NewRuntime()
	extra := false
	o := rt.Mount("grow", func(h *hooks.H) {
		hooks.UseState(h, 0)
		if extra {
			hooks.UseState(h, 1)
		}
	})
	extra = true
	o.Invalidate()
	assert.Panics(t, func() { rt.Tick(0) })
}

func TestReentrantTickPanics(t *testing.T) {
	rt := hooks.NewRuntime()
	var recovered any
	rt.Mount("reenter", func(h *hooks.H) {
		hooks.UseFrame(h, func(hooks.FrameEvent) {
			defer func() { recovered = recover() }()
			rt.Tick(0)
		})
	})
	rt.Tick(0)
	assert.NotNil(t, recovered)
}

func TestKeyedChildrenKeepStateAndTearDown(t *testing.T) {
	rt := hooks.NewRuntime()
	keys := []string{"a", "b"}
	frames := map[string]int{}
	refs := map[string]*int{}

	o := rt.Mount("list", func(h *hooks.H) {
		for _, key := range keys {
			h.Child(key, func(h *hooks.H) {
				refs[key] = hooks.UseRef(h, func() int { return 0 })
				hooks.UseFrame(h, func(hooks.FrameEvent) { frames[key]++ })
			})
		}
	})
	first := refs["b"]

	rt.Tick(0)
	keys = []string{"b", "c"}
	o.Invalidate()
	rt.Tick(0)
	rt.Tick(0)

	assert.Same(t, first, refs["b"], "child state survives reordering")
	assert.Equal(t, 2, frames["a"], "dropped child stops ticking")
	assert.Equal(t, 3, frames["b"])
	assert.Equal(t, 1, frames["c"])
}

func TestDuplicateChildKeyPanics(t *testing.T) {
	rt := hooks.NewRuntime()
	assert.Panics(t, func() {
		rt.Mount("dup", func(h *hooks.H) {
			h.Child("x", func(*hooks.H) {})
			h.Child("x", func(*hooks.H) {})
		})
	})
}

func TestSettersAreSafeForConcurrentUse(t *testing.T) {
	rt := hooks.NewRuntime()
	var set hooks.Setter[int]
	var last int
	rt.Mount("concurrent", func(h *hooks.H) {
		last, set = hooks.UseState(h, 0)
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			set(v)
		}(i)
	}
	wg.Wait()
	rt.Tick(0)
	assert.Positive(t, last)
}

func TestRuntimeStats(t *testing.T) {
	rt := hooks.NewRuntime()
	o := rt.Mount("a", func(h *hooks.H) {
		hooks.UseFrame(h, func(hooks.FrameEvent) {})
	})
	rt.Mount("b", func(h *hooks.H) {})

	for range 3 {
		rt.Tick(0)
	}
	o.Invalidate()
	rt.Tick(0)

	stats := rt.Stats()
	assert.Equal(t, uint64(4), stats.Frame)
	assert.Equal(t, 2, stats.ObserverCount)
	require.Len(t, stats.Observers, 2)
	assert.Equal(t, "a", stats.Observers[0].Name)
	assert.Equal(t, int64(2), stats.Observers[0].Renders)
	assert.Equal(t, int64(4), stats.Observers[0].FrameRuns)
	assert.LessOrEqual(t, stats.Observers[0].MinFrameDuration, stats.Observers[0].MaxFrameDuration)
	assert.Equal(t, int64(1), stats.Observers[1].Renders)
}

func TestUseCleanupRunsOnTeardown(t *testing.T) {
	rt := hooks.NewRuntime()
	var cleaned []string
	showChild := true
	o := rt.Mount("parent", func(h *hooks.H) {
		hooks.UseCleanup(h, func() { cleaned = append(cleaned, "parent") })
		if showChild {
			h.Child("child", func(h *hooks.H) {
				hooks.UseCleanup(h, func() { cleaned = append(cleaned, "child") })
			})
		}
	})

	showChild = false
	o.Invalidate()
	rt.Tick(0)
	assert.Equal(t, []string{"child"}, cleaned)

	o.Unmount()
	o.Unmount()
	assert.Equal(t, []string{"child", "parent"}, cleaned)
}
