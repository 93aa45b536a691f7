// Package monitor tracks the health of background sweeps so the health
// endpoint can report a degraded state before anyone notices missing
// backups.
package monitor

import (
	"sync"
	"time"
)

// SweepMonitor tracks one recurring sweep's outcomes.
type SweepMonitor struct {
	mu                sync.RWMutex
	name              string
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewSweepMonitor creates a monitor. staleAfter is how long the sweep may
// go without a success before it counts as unhealthy.
func NewSweepMonitor(name string, staleAfter time.Duration) *SweepMonitor {
	return &SweepMonitor{name: name, staleAfter: staleAfter}
}

// RecordSuccess records a successful sweep run.
func (m *SweepMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccess = time.Now()
	m.lastAttempt = time.Now()
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed sweep run.
func (m *SweepMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns false when the sweep never succeeded, has gone stale,
// or has failed more than 3 times in a row.
func (m *SweepMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *SweepMonitor) healthyLocked() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if time.Since(m.lastSuccess) > m.staleAfter {
		return false
	}
	if m.consecutiveErrors > 3 {
		return false
	}
	return true
}

// SweepStatus is the health-endpoint view of one sweep.
type SweepStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the sweep's current status.
func (m *SweepMonitor) Status() SweepStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := SweepStatus{
		Name:    m.name,
		Healthy: m.healthyLocked(),
	}
	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}
	return status
}
