package session

import (
	"math"
	"testing"
	"time"
)

func TestMetricsEmptyHistory(t *testing.T) {
	h := NewHistory(10)
	m := h.Metrics(0)
	if m.Total != 0 || m.ErrorRate != 0 || len(m.VelocityProfile) != 0 {
		t.Fatalf("Metrics on empty history = %+v, want zero value", m)
	}
}

func TestMetricsErrorRateAndDuration(t *testing.T) {
	h := NewHistory(10)
	base := time.Now()
	h.Add(Action{Type: "key", Timestamp: base, Duration: 10 * time.Millisecond, Success: true})
	h.Add(Action{Type: "key", Timestamp: base.Add(time.Second), Duration: 20 * time.Millisecond, Success: false})
	h.Add(Action{Type: "gesture", Timestamp: base.Add(2 * time.Second), Duration: 30 * time.Millisecond, Success: true})
	h.Add(Action{Type: "voice", Timestamp: base.Add(3 * time.Second), Duration: 40 * time.Millisecond, Success: false})

	m := h.Metrics(0)
	if m.Total != 4 {
		t.Fatalf("Total = %d, want 4", m.Total)
	}
	if m.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", m.ErrorRate)
	}
	if m.AverageDuration != 25*time.Millisecond {
		t.Errorf("AverageDuration = %v, want 25ms", m.AverageDuration)
	}
	if m.ActionVariety != 0.75 {
		t.Errorf("ActionVariety = %v, want 0.75", m.ActionVariety)
	}
}

func TestMetricsWindowLimitsScope(t *testing.T) {
	h := NewHistory(10)
	base := time.Now()
	h.Add(Action{Type: "key", Timestamp: base, Success: false})
	h.Add(Action{Type: "key", Timestamp: base.Add(time.Second), Success: true})
	h.Add(Action{Type: "key", Timestamp: base.Add(2 * time.Second), Success: true})

	m := h.Metrics(2)
	if m.Total != 2 {
		t.Fatalf("Total = %d, want 2", m.Total)
	}
	if m.ErrorRate != 0 {
		t.Errorf("ErrorRate = %v, want 0 (failure outside window)", m.ErrorRate)
	}
}

func TestMetricsVelocityProfile(t *testing.T) {
	h := NewHistory(10)
	base := time.Now()
	// 100 distance over 100ms -> speed 1, then 100 over 50ms -> speed 2,
	// 1000ms apart -> acceleration (2-1)/1000.
	h.Add(Action{
		Type: "gesture", Timestamp: base, Duration: 100 * time.Millisecond,
		Start: Point{}, End: Point{X: 100}, Success: true,
	})
	h.Add(Action{
		Type: "gesture", Timestamp: base.Add(time.Second), Duration: 50 * time.Millisecond,
		Start: Point{}, End: Point{X: 100}, Success: true,
	})

	m := h.Metrics(0)
	if len(m.VelocityProfile) != 2 {
		t.Fatalf("VelocityProfile length = %d, want 2", len(m.VelocityProfile))
	}
	if m.VelocityProfile[0].Speed != 1 || m.VelocityProfile[0].Acceleration != 0 {
		t.Errorf("first sample = %+v, want speed 1, acceleration 0", m.VelocityProfile[0])
	}
	if m.VelocityProfile[1].Speed != 2 {
		t.Errorf("second sample speed = %v, want 2", m.VelocityProfile[1].Speed)
	}
	if got, want := m.VelocityProfile[1].Acceleration, 0.001; math.Abs(got-want) > 1e-12 {
		t.Errorf("second sample acceleration = %v, want %v", got, want)
	}
	if m.AverageSpeed != 1.5 {
		t.Errorf("AverageSpeed = %v, want 1.5", m.AverageSpeed)
	}
}

func TestMetricsCoincidentTimestampsZeroAcceleration(t *testing.T) {
	h := NewHistory(10)
	at := time.Now()
	for i := 0; i < 2; i++ {
		h.Add(Action{
			Type: "key", Timestamp: at, Duration: 10 * time.Millisecond,
			End: Point{X: 10}, Success: true,
		})
	}

	m := h.Metrics(0)
	if m.VelocityProfile[1].Acceleration != 0 {
		t.Errorf("Acceleration = %v, want 0 for coincident timestamps", m.VelocityProfile[1].Acceleration)
	}
}
