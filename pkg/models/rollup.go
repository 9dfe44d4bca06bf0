package models

import "time"

// Rollup metric names. Each rollup row carries exactly one of these.
const (
	MetricConnections  = "connections_current"
	MetricMemoryMB     = "memory_mb"
	MetricOpsPerSecond = "operations_per_sec"
)

// RollupMetrics lists the metrics produced for every rolled-up bucket.
var RollupMetrics = []string{MetricConnections, MetricMemoryMB, MetricOpsPerSecond}

// RollupRow is the aggregate of one metric for one instance over one bucket.
// (InstanceID, Bucket, Metric) is unique.
type RollupRow struct {
	InstanceID string    `json:"instanceId" bson:"instanceId"`
	Bucket     time.Time `json:"bucket" bson:"bucket"`
	Metric     string    `json:"metric" bson:"metric"`
	Avg        float64   `json:"value" bson:"value"`
	Count      int64     `json:"count" bson:"count"`
	Min        float64   `json:"min" bson:"min"`
	Max        float64   `json:"max" bson:"max"`
	Sum        float64   `json:"sum" bson:"sum"`
}
