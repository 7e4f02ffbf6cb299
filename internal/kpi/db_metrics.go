package kpi

import (
	"context"
	"database/sql"
	"time"

	"github.com/fieldops/control-plane/internal/store"
)

// DBMetricsProvider computes the operational metrics the scheduled
// threshold sweep evaluates: sign-up volume and validation counts from
// sign_ups, and revenue/profit rollups from event_actuals joined to
// events by event date. Metrics are windowed: Collect reports the
// trailing window ending now as the current value and the window
// immediately before that as the prior value, so pct_change_* thresholds
// have something to compare against.
type DBMetricsProvider struct {
	store  *store.Store
	window time.Duration
	now    func() time.Time
}

// NewDBMetricsProvider builds a provider aggregating over window-sized
// buckets (e.g. 24h for a daily sweep).
func NewDBMetricsProvider(st *store.Store, window time.Duration) *DBMetricsProvider {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &DBMetricsProvider{store: st, window: window, now: time.Now}
}

// Collect satisfies scheduler.MetricsProvider.
func (p *DBMetricsProvider) Collect(ctx context.Context) (Metrics, PriorMetrics, error) {
	now := p.now()
	curStart := now.Add(-p.window)
	priorStart := curStart.Add(-p.window)

	cur, err := p.collectWindow(ctx, curStart, now)
	if err != nil {
		return nil, nil, err
	}
	prior, err := p.collectWindow(ctx, priorStart, curStart)
	if err != nil {
		return nil, nil, err
	}
	return cur, PriorMetrics(prior), nil
}

func (p *DBMetricsProvider) collectWindow(ctx context.Context, from, to time.Time) (Metrics, error) {
	m := Metrics{}

	var signups int
	if err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&signups)
	}, `SELECT count(*) FROM sign_ups WHERE submitted_at >= $1 AND submitted_at < $2`, from, to); err != nil {
		return nil, err
	}
	m["signups_count"] = float64(signups)

	var validated int
	if err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&validated)
	}, `SELECT count(*) FROM sign_ups
		WHERE submitted_at >= $1 AND submitted_at < $2 AND validation_status = 'validated'`, from, to); err != nil {
		return nil, err
	}
	m["signups_validated_count"] = float64(validated)

	var cpaSpend sql.NullFloat64
	if err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&cpaSpend)
	}, `SELECT coalesce(sum(cpa_amount), 0) FROM sign_ups
		WHERE submitted_at >= $1 AND submitted_at < $2`, from, to); err != nil {
		return nil, err
	}
	m["cpa_spend_total"] = cpaSpend.Float64

	var revenue, profit sql.NullFloat64
	if err := p.store.QueryRow(ctx, func(row *sql.Row) error {
		return row.Scan(&revenue, &profit)
	}, `SELECT coalesce(sum(ea.revenue), 0), coalesce(sum(ea.profit), 0)
		FROM event_actuals ea
		JOIN events e ON e.id = ea.event_id
		WHERE e.event_date >= $1 AND e.event_date < $2`, from, to); err != nil {
		return nil, err
	}
	m["revenue_total"] = revenue.Float64
	m["profit_total"] = profit.Float64

	return m, nil
}
