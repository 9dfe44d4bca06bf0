package sampler

import (
	"time"

	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/target"
)

// rate turns a counter delta into a per-second rate. Counter resets
// (server restarts) produce negative deltas and are clamped to zero.
func rate(cur, prev int64, elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	r := float64(cur-prev) / elapsed
	if r < 0 {
		return 0
	}
	return r
}

// ComputeRates derives per-second rates from two counter readings taken
// elapsed apart. A non-positive elapsed yields zero rates.
func ComputeRates(prev, cur models.OpCounters, elapsed time.Duration) models.OpRates {
	secs := elapsed.Seconds()
	return models.OpRates{
		Query:  rate(cur.Query, prev.Query, secs),
		Insert: rate(cur.Insert, prev.Insert, secs),
		Update: rate(cur.Update, prev.Update, secs),
		Delete: rate(cur.Delete, prev.Delete, secs),
	}
}

// AvgQueryMs derives mean latency per operation between two readings.
// ok is false when either reading lacks latency counters or no operations ran.
func AvgQueryMs(cur, prev *target.Latency) (float64, bool) {
	if cur == nil || prev == nil {
		return 0, false
	}
	ops := cur.Ops - prev.Ops
	micros := cur.TotalMicros - prev.TotalMicros
	if ops <= 0 || micros < 0 {
		return 0, false
	}
	return float64(micros) / float64(ops) / 1000, true
}
