package compaction

import (
	"time"

	"github.com/nicktill/dbpulse/pkg/models"
)

// Aggregate accumulates one metric over one bucket.
// We keep sum, count, min and max so the average can be recomputed exactly.
type Aggregate struct {
	Sum   float64
	Count int64
	Min   float64
	Max   float64
}

// Add folds one value into the aggregate.
func (a *Aggregate) Add(v float64) {
	if a.Count == 0 || v < a.Min {
		a.Min = v
	}
	if a.Count == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += v
	a.Count++
}

// Average calculates the mean value
func (a *Aggregate) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Row converts the aggregate to a persisted rollup row.
func (a *Aggregate) Row(instanceID string, bucket time.Time, metric string) models.RollupRow {
	return models.RollupRow{
		InstanceID: instanceID,
		Bucket:     bucket,
		Metric:     metric,
		Avg:        a.Average(),
		Count:      a.Count,
		Min:        a.Min,
		Max:        a.Max,
		Sum:        a.Sum,
	}
}

// metricValues extracts each rollup metric from a sample, in RollupMetrics order.
func metricValues(s models.Sample) [3]float64 {
	return [3]float64{
		float64(s.Connections),
		s.MemResidentMB,
		s.OpsPerSec.Total(),
	}
}

// BuildRows aggregates the samples of one bucket into one row per metric.
// Samples must be in timestamp order so repeated runs sum in the same order.
func BuildRows(instanceID string, bucket time.Time, samples []models.Sample) []models.RollupRow {
	if len(samples) == 0 {
		return nil
	}

	var aggs [3]Aggregate
	for _, s := range samples {
		for i, v := range metricValues(s) {
			aggs[i].Add(v)
		}
	}

	rows := make([]models.RollupRow, 0, len(models.RollupMetrics))
	for i, metric := range models.RollupMetrics {
		rows = append(rows, aggs[i].Row(instanceID, bucket, metric))
	}
	return rows
}
