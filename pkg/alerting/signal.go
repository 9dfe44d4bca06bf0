package alerting

import "github.com/nicktill/dbpulse/pkg/models"

// Signal labels recorded in event metadata.
const (
	LabelConnections     = "connections"
	LabelOpsPerSec       = "ops_per_sec"
	LabelAvgQueryMs      = "avg_query_ms"
	LabelNoData          = "no_data"
	LabelLatencyMissing  = "avg_query_ms_missing"
	LabelUnknownRuleType = "unknown_rule_type"
)

// Signal is the value a rule compares against its threshold.
// Defined is false when the window holds no usable data.
type Signal struct {
	Value   float64
	Label   string
	Defined bool
}

// ComputeSignal reduces a window of samples to a single value for the rule type.
func ComputeSignal(t models.RuleType, samples []models.Sample) Signal {
	if len(samples) == 0 {
		return Signal{Label: LabelNoData}
	}

	switch t {
	case models.RuleHighConnections:
		highest := samples[0].Connections
		for _, s := range samples[1:] {
			if s.Connections > highest {
				highest = s.Connections
			}
		}
		return Signal{Value: float64(highest), Label: LabelConnections, Defined: true}

	case models.RuleSlowOperationsRate:
		var sum float64
		for _, s := range samples {
			sum += s.OpsPerSec.Total()
		}
		return Signal{Value: sum / float64(len(samples)), Label: LabelOpsPerSec, Defined: true}

	case models.RuleHighOpsLatency:
		var sum float64
		var n int
		for _, s := range samples {
			if s.AvgQueryMs == nil {
				continue
			}
			sum += *s.AvgQueryMs
			n++
		}
		if n == 0 {
			return Signal{Label: LabelLatencyMissing}
		}
		return Signal{Value: sum / float64(n), Label: LabelAvgQueryMs, Defined: true}
	}

	return Signal{Label: LabelUnknownRuleType}
}
