package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/dbpulse/pkg/models"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Instances is the directory of monitored database instances.
type Instances interface {
	// ListActiveInstances returns only instances with Active set.
	ListActiveInstances(ctx context.Context) ([]models.Instance, error)
	ListInstances(ctx context.Context) ([]models.Instance, error)
	GetInstance(ctx context.Context, id string) (models.Instance, error)
	UpsertInstance(ctx context.Context, inst models.Instance) error
}

// Samples holds raw, insert-only observations.
type Samples interface {
	WriteSample(ctx context.Context, s models.Sample) error

	// QuerySamples returns samples for one instance ordered by timestamp ascending.
	QuerySamples(ctx context.Context, req SampleQuery) ([]models.Sample, error)

	// DeleteSamplesBefore removes every sample with Timestamp < before.
	DeleteSamplesBefore(ctx context.Context, before time.Time) (int64, error)
}

// Rollups holds bucket aggregates keyed by (instance, bucket, metric).
type Rollups interface {
	// UpsertRollups writes rows, replacing any row with the same key.
	UpsertRollups(ctx context.Context, rows []models.RollupRow) error

	// LatestRollupBucket returns the newest bucket written for an instance.
	// ok is false when the instance has no rollups.
	LatestRollupBucket(ctx context.Context, instanceID string) (bucket time.Time, ok bool, err error)

	// QueryRollups returns rows ordered by bucket then metric.
	QueryRollups(ctx context.Context, req RollupQuery) ([]models.RollupRow, error)

	DeleteRollupsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Rules stores alert rule definitions.
type Rules interface {
	ListEnabledRules(ctx context.Context) ([]models.AlertRule, error)

	// ListRulesForInstance returns global rules plus rules scoped to instanceID.
	// An empty instanceID returns every rule.
	ListRulesForInstance(ctx context.Context, instanceID string) ([]models.AlertRule, error)

	SaveRule(ctx context.Context, rule models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
}

// Events is the append-only alert event log.
type Events interface {
	AppendEvent(ctx context.Context, ev models.AlertEvent) error

	// LatestEvent returns the newest event for a (rule, instance) pair.
	LatestEvent(ctx context.Context, ruleID, instanceID string) (ev models.AlertEvent, ok bool, err error)

	// ListEvents returns one page of matching events newest first, plus the
	// total number of matches.
	ListEvents(ctx context.Context, filter EventFilter) ([]models.AlertEvent, int64, error)
}

// Storage is implemented by every backend.
// Implementations: memory (testing), badger (embedded), mongo (shared).
type Storage interface {
	Instances
	Samples
	Rollups
	Rules
	Events

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// SampleQuery selects samples for one instance in [Start, End).
// IncludeEnd widens the range to [Start, End].
type SampleQuery struct {
	InstanceID string
	Start      time.Time
	End        time.Time
	IncludeEnd bool

	// Limit number of results (0 = no limit)
	Limit int
}

// Contains reports whether ts falls inside the query range.
func (q SampleQuery) Contains(ts time.Time) bool {
	if ts.Before(q.Start) {
		return false
	}
	if q.IncludeEnd {
		return !ts.After(q.End)
	}
	return ts.Before(q.End)
}

// RollupQuery selects rollup rows in [Start, End). Metric is optional.
type RollupQuery struct {
	InstanceID string
	Metric     string
	Start      time.Time
	End        time.Time
}

// Matches reports whether row satisfies the query.
func (q RollupQuery) Matches(row models.RollupRow) bool {
	if row.InstanceID != q.InstanceID {
		return false
	}
	if q.Metric != "" && row.Metric != q.Metric {
		return false
	}
	return !row.Bucket.Before(q.Start) && row.Bucket.Before(q.End)
}

// EventFilter narrows ListEvents. Zero-valued fields do not filter.
// Start and End bound CreatedAt inclusively.
type EventFilter struct {
	InstanceID string
	RuleID     string
	Status     models.AlertStatus
	EventType  models.EventType
	Start      time.Time
	End        time.Time
	Limit      int
	Offset     int
}

// Matches reports whether ev satisfies every set field of the filter.
func (f EventFilter) Matches(ev models.AlertEvent) bool {
	switch {
	case f.InstanceID != "" && ev.InstanceID != f.InstanceID:
		return false
	case f.RuleID != "" && ev.RuleID != f.RuleID:
		return false
	case f.Status != "" && ev.Status != f.Status:
		return false
	case f.EventType != "" && ev.EventType != f.EventType:
		return false
	case !f.Start.IsZero() && ev.CreatedAt.Before(f.Start):
		return false
	case !f.End.IsZero() && ev.CreatedAt.After(f.End):
		return false
	}
	return true
}

// Page applies Offset and Limit to an already sorted slice.
func (f EventFilter) Page(events []models.AlertEvent) []models.AlertEvent {
	if f.Offset >= len(events) {
		return []models.AlertEvent{}
	}
	events = events[f.Offset:]
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[:f.Limit]
	}
	return events
}

// Stats provides storage health and usage info
type Stats struct {
	Backend string `json:"backend"`

	Instances uint64 `json:"instances"`
	Samples   uint64 `json:"samples"`
	Rollups   uint64 `json:"rollups"`
	Rules     uint64 `json:"rules"`
	Events    uint64 `json:"events"`

	// Storage size in bytes (0 when the backend cannot tell)
	SizeBytes uint64 `json:"sizeBytes"`

	OldestSample time.Time `json:"oldestSample,omitempty"`
	NewestSample time.Time `json:"newestSample,omitempty"`
}
