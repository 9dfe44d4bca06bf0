package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestLoopMonitor_RecordSuccess(t *testing.T) {
	lm := NewLoopMonitor("sampler", time.Minute)
	lm.RecordSuccess(10 * time.Millisecond)

	status := lm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.Name != "sampler" {
		t.Errorf("Name = %q, want sampler", status.Name)
	}
	if status.Ticks != 1 {
		t.Errorf("Ticks = %d, want 1", status.Ticks)
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
}

func TestLoopMonitor_RecordFailure(t *testing.T) {
	lm := NewLoopMonitor("rollup", time.Minute)
	lm.RecordFailure(errors.New("store unavailable"), time.Millisecond)

	status := lm.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "store unavailable" {
		t.Errorf("LastError = %q, want %q", status.LastError, "store unavailable")
	}
	if status.LastAttempt == "" {
		t.Error("LastAttempt should be set")
	}
}

func TestLoopMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*LoopMonitor)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*LoopMonitor) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(lm *LoopMonitor) {
				lm.RecordSuccess(0)
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(lm *LoopMonitor) {
				lm.mu.Lock()
				lm.lastSuccess = time.Now().Add(-2 * time.Hour)
				lm.mu.Unlock()
			},
			expected: false,
		},
		{
			name: "failures within tolerance",
			setup: func(lm *LoopMonitor) {
				lm.RecordSuccess(0)
				lm.RecordFailure(errors.New("error 1"), 0)
				lm.RecordFailure(errors.New("error 2"), 0)
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(lm *LoopMonitor) {
				lm.RecordSuccess(0)
				for i := 0; i < 4; i++ {
					lm.RecordFailure(errors.New("error"), 0)
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lm := NewLoopMonitor("alerts", time.Hour)
			tt.setup(lm)
			if got := lm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}
