// Package scheduler runs the background jobs the control plane needs
// independent of any HTTP request: snoozed-alert reactivation and
// periodic KPI re-evaluation. A mutex-guarded started flag keeps Start
// idempotent, and the jobs run on robfig/cron so each job can carry its own cron
// expression instead of one fixed ticker interval.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldops/control-plane/internal/kpi"
)

// MetricsProvider supplies the current and prior aggregation-period
// values a KPI sweep compares thresholds against. Computing these is
// domain-specific (event/actuals rollups) and lives outside this
// package; the scheduler only owns the cadence.
type MetricsProvider func(ctx context.Context) (kpi.Metrics, kpi.PriorMetrics, error)

// Scheduler owns the cron runtime and the jobs registered onto it.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	alerts  *kpi.AlertStore
	eval    *kpi.Evaluator
	logger  *log.Logger
	started bool
}

func New(alerts *kpi.AlertStore, eval *kpi.Evaluator) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		alerts: alerts,
		eval:   eval,
		logger: log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags),
	}
}

// RegisterSnoozeReactivation reactivates snoozed alerts whose snoozedUntil
// has elapsed, on the given cron expression.
func (s *Scheduler) RegisterSnoozeReactivation(ctx context.Context, expr string) error {
	_, err := s.cron.AddFunc(expr, func() {
		n, err := s.alerts.ReactivateSnoozed(ctx)
		if err != nil {
			s.logger.Printf("snooze reactivation sweep failed: %v", err)
			return
		}
		if n > 0 {
			s.logger.Printf("reactivated %d snoozed alert(s)", n)
		}
	})
	return err
}

// RegisterKPIEvaluation runs a full threshold sweep against metrics
// computed by provider, on the given cron expression.
func (s *Scheduler) RegisterKPIEvaluation(ctx context.Context, expr string, provider MetricsProvider) error {
	_, err := s.cron.AddFunc(expr, func() {
		metrics, prior, err := provider(ctx)
		if err != nil {
			s.logger.Printf("metrics collection failed: %v", err)
			return
		}
		if err := s.eval.Evaluate(ctx, metrics, prior); err != nil {
			s.logger.Printf("KPI evaluation sweep failed: %v", err)
		}
	})
	return err
}

// Start begins running registered jobs. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.logger.Println("starting background job runner")
	s.cron.Start()
}

// Stop blocks until all running jobs finish, returning early when ctx is
// done or after 30 seconds, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Println("shutdown deadline reached before jobs drained")
	case <-time.After(30 * time.Second):
	}
	s.logger.Println("background job runner stopped")
}
