package kpi

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/control-plane/internal/metrics"
	"github.com/fieldops/control-plane/internal/models"
)

// Metrics is the current-value lookup the evaluator compares thresholds
// against: kpiName -> observed value for the aggregation period.
type Metrics map[string]float64

// PriorMetrics supplies the prior-period value for pct_change_* comparators.
type PriorMetrics map[string]float64

// Evaluator drives threshold comparison and alert creation.
type Evaluator struct {
	thresholds *ThresholdStore
	alerts     *AlertStore
	notifier   *NotificationDispatcher
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewEvaluator(thresholds *ThresholdStore, alerts *AlertStore) *Evaluator {
	return &Evaluator{thresholds: thresholds, alerts: alerts, now: time.Now}
}

// WithMetrics attaches Prometheus instrumentation; omit in tests.
func (e *Evaluator) WithMetrics(m *metrics.Metrics) *Evaluator {
	e.metrics = m
	return e
}

// WithNotifier routes every created alert to the dispatcher, addressed
// to the channels and recipients declared on its threshold.
func (e *Evaluator) WithNotifier(d *NotificationDispatcher) *Evaluator {
	e.notifier = d
	return e
}

// Evaluate checks every enabled threshold against metrics (and prior, for
// pct_change comparators), honoring cooldown, and creates a KPIAlert for
// each breach.
func (e *Evaluator) Evaluate(ctx context.Context, obs Metrics, prior PriorMetrics) (evalErr error) {
	if e.metrics != nil {
		defer func() { e.metrics.RecordKPIEvaluation(evalErr == nil) }()
	}
	thresholds, err := e.thresholds.ListEnabled(ctx)
	if err != nil {
		return err
	}
	now := e.now()
	for _, t := range thresholds {
		if t.LastAlertAt != nil && now.Sub(*t.LastAlertAt) < time.Duration(t.CooldownMinutes)*time.Minute {
			continue
		}
		current, ok := obs[t.KPIName]
		if !ok {
			continue
		}
		priorVal := prior[t.KPIName]

		if !compare(t.Condition, current, t.ThresholdValue, priorVal) {
			continue
		}

		severity := t.Severity
		if t.CriticalThreshold != nil && compare(t.Condition, current, *t.CriticalThreshold, priorVal) {
			severity = models.SeverityCritical
		}

		alert := models.KPIAlert{
			ThresholdID:      t.ID,
			KPIName:          t.KPIName,
			Severity:         severity,
			Status:           models.AlertActive,
			CurrentValue:     current,
			ThresholdValue:   t.ThresholdValue,
			DeviationPercent: deviationPercent(current, t.ThresholdValue),
			Message:          buildMessage(t, current),
			CreatedAt:        now,
		}
		if err := e.alerts.CreateAlert(ctx, &alert); err != nil {
			return err
		}
		if err := e.thresholds.touchLastAlertAt(ctx, t.ID, now); err != nil {
			return err
		}
		if e.notifier != nil {
			e.notifier.Dispatch(alert, t.Channels, t.Recipients)
		}
		if e.metrics != nil {
			e.metrics.RecordAlertRaised(t.KPIName, string(severity))
			e.metrics.SetThresholdBreach(t.KPIName, true)
		}
	}
	return nil
}

// compare applies the threshold's comparator. pct_change comparators
// measure percent change from prior to current.
func compare(cond models.Condition, current, threshold, prior float64) bool {
	switch cond {
	case models.CondGT:
		return current > threshold
	case models.CondLT:
		return current < threshold
	case models.CondGTE:
		return current >= threshold
	case models.CondLTE:
		return current <= threshold
	case models.CondEQ:
		return current == threshold
	case models.CondNEQ:
		return current != threshold
	case models.CondPctChangeAbove:
		return deviationPercent(current, prior) > threshold
	case models.CondPctChangeBelow:
		return deviationPercent(current, prior) < threshold
	default:
		return false
	}
}

// deviationPercent is 0 when the reference value is 0.
func deviationPercent(current, reference float64) float64 {
	if reference == 0 {
		return 0
	}
	return (current - reference) / reference * 100
}

func buildMessage(t models.KPIThreshold, current float64) string {
	return fmt.Sprintf("%s is %.2f, breaching %s %.2f", t.KPIName, current, t.Condition, t.ThresholdValue)
}

// CheckThresholds is the on-demand entry point, driven either by a
// periodic loop or by an explicit caller request.
func (e *Evaluator) CheckThresholds(ctx context.Context, metrics Metrics, prior PriorMetrics) error {
	return e.Evaluate(ctx, metrics, prior)
}
