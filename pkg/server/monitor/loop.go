package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveErrors is how many failed ticks in a row a loop tolerates
// before it reports unhealthy.
const maxConsecutiveErrors = 3

// LoopMonitor tracks the health of one background loop.
type LoopMonitor struct {
	name       string
	staleAfter time.Duration

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastDuration      time.Duration
	ticks             uint64
	consecutiveErrors int
	lastError         string
}

// NewLoopMonitor creates a monitor for a loop. A loop that has not completed
// a tick within staleAfter is unhealthy.
func NewLoopMonitor(name string, staleAfter time.Duration) *LoopMonitor {
	return &LoopMonitor{name: name, staleAfter: staleAfter}
}

// Name returns the loop name.
func (lm *LoopMonitor) Name() string {
	return lm.name
}

// RecordSuccess records a completed tick.
func (lm *LoopMonitor) RecordSuccess(took time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	now := time.Now()
	lm.lastSuccess = now
	lm.lastAttempt = now
	lm.lastDuration = took
	lm.ticks++
	lm.consecutiveErrors = 0
	lm.lastError = ""
}

// RecordFailure records a failed tick.
func (lm *LoopMonitor) RecordFailure(err error, took time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.lastAttempt = time.Now()
	lm.lastDuration = took
	lm.ticks++
	lm.consecutiveErrors++
	if err != nil {
		lm.lastError = err.Error()
	}
}

// IsHealthy returns true if the loop is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within staleAfter
//   - More than 3 consecutive failures
func (lm *LoopMonitor) IsHealthy() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.healthyLocked()
}

func (lm *LoopMonitor) healthyLocked() bool {
	if lm.lastSuccess.IsZero() {
		return false
	}
	if lm.staleAfter > 0 && time.Since(lm.lastSuccess) > lm.staleAfter {
		return false
	}
	return lm.consecutiveErrors <= maxConsecutiveErrors
}

// LoopStatus is the health-check view of a loop.
type LoopStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	Ticks             uint64 `json:"ticks"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastDuration      string `json:"last_duration,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current loop status for health checks.
func (lm *LoopMonitor) Status() LoopStatus {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	status := LoopStatus{
		Name:    lm.name,
		Healthy: lm.healthyLocked(),
		Ticks:   lm.ticks,
	}

	if !lm.lastSuccess.IsZero() {
		status.LastSuccess = lm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(lm.lastSuccess).Round(time.Millisecond).String()
	}

	if !lm.lastAttempt.IsZero() {
		status.LastAttempt = lm.lastAttempt.Format(time.RFC3339)
		status.LastDuration = lm.lastDuration.Round(time.Microsecond).String()
	}

	if lm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = lm.consecutiveErrors
		status.LastError = lm.lastError
	}

	return status
}
