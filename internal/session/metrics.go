package session

import "time"

// VelocitySample is one entry of a velocity profile.
type VelocitySample struct {
	// Type is the sampled action's type.
	Type string

	// Timestamp is the sampled action's timestamp.
	Timestamp time.Time

	// Speed is spatial distance per millisecond.
	Speed float64

	// Acceleration is the finite-difference speed change per millisecond
	// against the previous action; 0 for the first sample or coincident
	// timestamps.
	Acceleration float64
}

// Metrics summarizes a window of actions.
type Metrics struct {
	// Total is the number of actions in the window.
	Total int

	// ErrorRate is failed actions over total.
	ErrorRate float64

	// AverageDuration is the mean action duration.
	AverageDuration time.Duration

	// AverageSpeed is the mean of per-action spatial speeds.
	AverageSpeed float64

	// ActionVariety is distinct action types over total actions, a simple
	// diversity ratio.
	ActionVariety float64

	// VelocityProfile holds one sample per action in chronological order.
	VelocityProfile []VelocitySample
}

// Metrics computes windowed metrics over the n most recent actions;
// n <= 0 covers the whole buffer.
func (h *History) Metrics(n int) Metrics {
	window := h.Window(n)
	if len(window) == 0 {
		return Metrics{}
	}

	var (
		failed        int
		totalDuration time.Duration
		totalSpeed    float64
		types         = make(map[string]struct{})
		profile       = make([]VelocitySample, len(window))
	)

	for i, a := range window {
		if !a.Success {
			failed++
		}
		totalDuration += a.Duration
		types[a.Type] = struct{}{}

		speed := a.Speed()
		totalSpeed += speed

		sample := VelocitySample{Type: a.Type, Timestamp: a.Timestamp, Speed: speed}
		if i > 0 {
			gap := float64(a.Timestamp.Sub(window[i-1].Timestamp)) / float64(time.Millisecond)
			if gap > 0 {
				sample.Acceleration = (speed - profile[i-1].Speed) / gap
			}
		}
		profile[i] = sample
	}

	total := len(window)
	return Metrics{
		Total:           total,
		ErrorRate:       float64(failed) / float64(total),
		AverageDuration: totalDuration / time.Duration(total),
		AverageSpeed:    totalSpeed / float64(total),
		ActionVariety:   float64(len(types)) / float64(total),
		VelocityProfile: profile,
	}
}
