// Package alerting evaluates threshold rules against recent samples and
// records status transitions as alert events.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
)

// Outcome describes what happened to one (rule, instance) pair in a tick.
type Outcome int

const (
	NoData Outcome = iota
	Unchanged
	Suppressed
	Triggered
	Resolved
)

func (o Outcome) String() string {
	switch o {
	case NoData:
		return "no_data"
	case Unchanged:
		return "unchanged"
	case Suppressed:
		return "suppressed"
	case Triggered:
		return "triggered"
	case Resolved:
		return "resolved"
	}
	return "unknown"
}

// Notifier is told about every appended event.
type Notifier interface {
	Notify(ctx context.Context, ev models.AlertEvent) error
}

// Store is what the engine reads and writes.
type Store interface {
	storage.Instances
	storage.Samples
	storage.Rules
	storage.Events
}

// Engine runs one evaluation pass per Tick.
type Engine struct {
	store     Store
	cooldown  time.Duration
	notifiers []Notifier
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewEngine creates an evaluation engine. cooldown <= 0 disables suppression.
func NewEngine(store Store, cooldown time.Duration, log *slog.Logger, notifiers ...Notifier) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:     store,
		cooldown:  cooldown,
		notifiers: notifiers,
		log:       log.With("module", "alerting"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Tick evaluates every enabled rule against its target instances.
// Only failing to load rules or instances is returned; per-pair errors are logged.
func (e *Engine) Tick(ctx context.Context) error {
	now := e.now().UTC()

	rules, err := e.store.ListEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	instances, err := e.store.ListActiveInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}

	active := make([]string, 0, len(instances))
	for _, inst := range instances {
		active = append(active, inst.ID)
	}

	for _, rule := range rules {
		if rule.ID == "" || !rule.Type.Valid() {
			e.log.Warn("skipping invalid rule", "rule_id", rule.ID, "type", rule.Type)
			continue
		}

		targets := active
		if rule.InstanceScope != "" {
			targets = []string{rule.InstanceScope}
		}

		for _, id := range targets {
			outcome, err := e.EvaluatePair(ctx, rule, id, now)
			if err != nil {
				e.log.Error("alert evaluation failed", "rule_id", rule.ID, "instance_id", id, "error", err)
				continue
			}
			e.log.Debug("alert evaluated", "rule_id", rule.ID, "instance_id", id, "outcome", outcome.String())
		}
	}
	return nil
}

// EvaluatePair evaluates one rule for one instance at now and appends an
// event when the pair's status changes outside the cooldown.
func (e *Engine) EvaluatePair(ctx context.Context, rule models.AlertRule, instanceID string, now time.Time) (Outcome, error) {
	window := rule.Window()
	samples, err := e.store.QuerySamples(ctx, storage.SampleQuery{
		InstanceID: instanceID,
		Start:      now.Add(-window),
		End:        now,
		IncludeEnd: true,
	})
	if err != nil {
		return NoData, fmt.Errorf("query samples: %w", err)
	}

	sig := ComputeSignal(rule.Type, samples)
	if !sig.Defined {
		return NoData, nil
	}

	desired := models.StatusOK
	if sig.Value > rule.Threshold {
		desired = models.StatusTriggered
	}

	last, found, err := e.store.LatestEvent(ctx, rule.ID, instanceID)
	if err != nil {
		return NoData, fmt.Errorf("load latest event: %w", err)
	}
	current := models.StatusOK
	if found {
		current = last.Status
	}

	if desired == current {
		return Unchanged, nil
	}
	if found && e.cooldown > 0 && now.Sub(last.CreatedAt) < e.cooldown {
		return Suppressed, nil
	}

	ev := buildEvent(rule, instanceID, desired, sig, len(samples), now)
	ev.ID = e.newID()
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return NoData, fmt.Errorf("append event: %w", err)
	}

	e.log.Info("alert status changed",
		"rule_id", rule.ID,
		"instance_id", instanceID,
		"status", ev.Status,
		"value", sig.Value,
		"threshold", rule.Threshold)

	e.notify(ctx, ev)

	if desired == models.StatusTriggered {
		return Triggered, nil
	}
	return Resolved, nil
}

func (e *Engine) notify(ctx context.Context, ev models.AlertEvent) {
	for _, n := range e.notifiers {
		nctx, cancel := context.WithTimeout(ctx, config.NotifyTimeout)
		if err := n.Notify(nctx, ev); err != nil {
			e.log.Warn("alert notification failed", "event_id", ev.ID, "error", err)
		}
		cancel()
	}
}

func buildEvent(rule models.AlertRule, instanceID string, status models.AlertStatus, sig Signal, samplesCount int, now time.Time) models.AlertEvent {
	trigger := status == models.StatusTriggered
	windowSec := int(rule.Window() / time.Second)

	severity := rule.Severity
	if !severity.Valid() {
		severity = models.SeverityWarning
	}

	evType := models.EventResolved
	if trigger {
		evType = models.EventTriggered
	}

	return models.AlertEvent{
		RuleID:     rule.ID,
		InstanceID: instanceID,
		EventType:  evType,
		Status:     status,
		Severity:   severity,
		Title:      Title(rule, instanceID, trigger),
		Message:    Message(rule, windowSec, trigger, sig),
		Value:      sig.Value,
		Threshold:  rule.Threshold,
		WindowSec:  windowSec,
		CreatedAt:  now,
		Meta: map[string]any{
			"signalLabel":  sig.Label,
			"samplesCount": samplesCount,
		},
	}
}

// Title renders "Triggered: <name> (<instance>)" or the Resolved form.
// The rule type stands in for an empty name.
func Title(rule models.AlertRule, instanceID string, trigger bool) string {
	prefix := "Resolved"
	if trigger {
		prefix = "Triggered"
	}
	name := rule.Name
	if name == "" {
		name = string(rule.Type)
	}
	return fmt.Sprintf("%s: %s (%s)", prefix, name, instanceID)
}

// Message renders the human-readable event detail line.
func Message(rule models.AlertRule, windowSec int, trigger bool, sig Signal) string {
	verb := "Resolve"
	if trigger {
		verb = "Trigger"
	}
	return fmt.Sprintf("%s: value=%.3f (%s) ruleType=%s windowSec=%d threshold=%s",
		verb, sig.Value, sig.Label, rule.Type, windowSec,
		strconv.FormatFloat(rule.Threshold, 'f', -1, 64))
}
