package models

import "time"

// RuleType selects the signal a rule computes from windowed samples.
type RuleType string

const (
	RuleHighConnections    RuleType = "high_connections"
	RuleSlowOperationsRate RuleType = "slow_operations_rate"
	RuleHighOpsLatency     RuleType = "high_ops_latency"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleHighConnections, RuleSlowOperationsRate, RuleHighOpsLatency:
		return true
	}
	return false
}

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// AlertStatus is the state of a (rule, instance) pair.
type AlertStatus string

const (
	StatusOK        AlertStatus = "ok"
	StatusTriggered AlertStatus = "triggered"
)

// EventType records the direction of a status transition.
type EventType string

const (
	EventTriggered EventType = "triggered"
	EventResolved  EventType = "resolved"
)

// DefaultWindowSec is used when a rule carries no usable window.
const DefaultWindowSec = 60

// AlertRule is a named threshold definition.
type AlertRule struct {
	ID            string    `json:"id" bson:"_id"`
	Name          string    `json:"name" bson:"name"`
	Type          RuleType  `json:"type" bson:"type"`
	Enabled       bool      `json:"enabled" bson:"enabled"`
	Severity      Severity  `json:"severity" bson:"severity"`
	Threshold     float64   `json:"threshold" bson:"threshold"`
	WindowSec     int       `json:"windowSec" bson:"windowSec"`
	InstanceScope string    `json:"instanceScope,omitempty" bson:"instanceScope,omitempty"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Window returns the evaluation window, falling back to DefaultWindowSec.
func (r AlertRule) Window() time.Duration {
	if r.WindowSec <= 0 {
		return DefaultWindowSec * time.Second
	}
	return time.Duration(r.WindowSec) * time.Second
}

// AppliesTo reports whether the rule targets instanceID.
func (r AlertRule) AppliesTo(instanceID string) bool {
	return r.InstanceScope == "" || r.InstanceScope == instanceID
}

// AlertEvent is an immutable record of a status transition for one pair.
type AlertEvent struct {
	ID         string         `json:"id" bson:"_id"`
	RuleID     string         `json:"ruleId" bson:"ruleId"`
	InstanceID string         `json:"instanceId" bson:"instanceId"`
	EventType  EventType      `json:"eventType" bson:"eventType"`
	Status     AlertStatus    `json:"status" bson:"status"`
	Severity   Severity       `json:"severity" bson:"severity"`
	Title      string         `json:"title" bson:"title"`
	Message    string         `json:"message" bson:"message"`
	Value      float64        `json:"value" bson:"value"`
	Threshold  float64        `json:"threshold" bson:"threshold"`
	WindowSec  int            `json:"windowSec" bson:"windowSec"`
	CreatedAt  time.Time      `json:"createdAt" bson:"createdAt"`
	Meta       map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
}
