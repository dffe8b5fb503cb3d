package hooks

import "time"

// RuntimeStats summarizes a runtime's observers.
type RuntimeStats struct {
	Frame         uint64
	ObserverCount int
	Observers     []ObserverStats
}

// ObserverStats provides render and frame statistics for a single observer.
type ObserverStats struct {
	Name               string
	Renders            int64
	FrameRuns          int64
	MinFrameDuration   time.Duration
	MaxFrameDuration   time.Duration
	AvgFrameDuration   time.Duration
	LastFrameDuration  time.Duration
	LastRenderDuration time.Duration
}

type observerStatsInternal struct {
	renders            int64
	frameRuns          int64
	minFrameDuration   time.Duration
	maxFrameDuration   time.Duration
	totalFrameDuration time.Duration
	lastFrameDuration  time.Duration
	lastRenderDuration time.Duration
}

func (s *observerStatsInternal) recordFrame(d time.Duration) {
	s.frameRuns++
	s.lastFrameDuration = d
	s.totalFrameDuration += d
	if d < s.minFrameDuration {
		s.minFrameDuration = d
	}
	if d > s.maxFrameDuration {
		s.maxFrameDuration = d
	}
}

// Stats returns statistics for every live observer in mount order.
func (r *Runtime) Stats() RuntimeStats {
	stats := RuntimeStats{
		Frame:         r.frame,
		ObserverCount: len(r.observers),
		Observers:     make([]ObserverStats, len(r.observers)),
	}
	for i, o := range r.observers {
		internal := o.stats
		var avg time.Duration
		minFrame := internal.minFrameDuration
		if internal.frameRuns > 0 {
			avg = internal.totalFrameDuration / time.Duration(internal.frameRuns)
		} else {
			minFrame = 0
		}
		stats.Observers[i] = ObserverStats{
			Name:               o.name,
			Renders:            internal.renders,
			FrameRuns:          internal.frameRuns,
			MinFrameDuration:   minFrame,
			MaxFrameDuration:   internal.maxFrameDuration,
			AvgFrameDuration:   avg,
			LastFrameDuration:  internal.lastFrameDuration,
			LastRenderDuration: internal.lastRenderDuration,
		}
	}
	return stats
}
