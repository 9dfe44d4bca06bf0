package models

import "time"

// OpCounters holds monotonic operation counters as reported by the source.
type OpCounters struct {
	Query  int64 `json:"query" bson:"query"`
	Insert int64 `json:"insert" bson:"insert"`
	Update int64 `json:"update" bson:"update"`
	Delete int64 `json:"delete" bson:"delete"`
}

// OpRates holds per-second operation rates derived from two OpCounters.
type OpRates struct {
	Query  float64 `json:"query" bson:"query"`
	Insert float64 `json:"insert" bson:"insert"`
	Update float64 `json:"update" bson:"update"`
	Delete float64 `json:"delete" bson:"delete"`
}

// Total returns the sum of all categories.
func (r OpRates) Total() float64 {
	return r.Query + r.Insert + r.Update + r.Delete
}

// Sample is one raw observation of an instance. Samples are immutable once written.
type Sample struct {
	InstanceID    string     `json:"instanceId" bson:"instanceId"`
	Timestamp     time.Time  `json:"ts" bson:"ts"`
	Connections   int64      `json:"connections" bson:"connections"`
	OpCounters    OpCounters `json:"opcounters" bson:"opcounters"`
	OpsPerSec     OpRates    `json:"opsPerSec" bson:"opsPerSec"`
	MemResidentMB float64    `json:"memResidentMB" bson:"memResidentMB"`

	// AvgQueryMs is only set when the source exposes latency counters and a
	// previous snapshot was available to diff against.
	AvgQueryMs *float64 `json:"avgQueryMs,omitempty" bson:"avgQueryMs,omitempty"`
}
