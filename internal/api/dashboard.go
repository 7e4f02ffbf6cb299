package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldops/control-plane/internal/kpi"
)

// registerDashboardRoutes exposes the read-only analytics views an
// operator dashboard polls: a rolling metrics snapshot (the same
// aggregation the scheduled threshold sweep runs against) and the active
// alert feed, grouped by severity for a widget badge count.
func (s *Server) registerDashboardRoutes(r *mux.Router) {
	r.HandleFunc("/dashboard/metrics", s.dashboardMetrics).Methods("GET")
	r.HandleFunc("/dashboard/alerts", s.dashboardAlerts).Methods("GET")
}

// dashboardMetrics reports the current and prior windowed KPI metrics
// (sign-up volume, validation counts, CPA spend, revenue/profit) so a
// dashboard can render the same numbers the scheduled evaluator compares
// thresholds against, without waiting for the next sweep.
func (s *Server) dashboardMetrics(w http.ResponseWriter, r *http.Request) {
	windowHours := queryInt(r, "windowHours", 24)
	window := time.Duration(windowHours) * time.Hour
	provider := kpi.NewDBMetricsProvider(s.store, window)

	cur, prior, err := provider.Collect(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"windowHours": windowHours,
		"current":     cur,
		"prior":       prior,
	})
}

// dashboardAlerts reports every non-resolved alert along with a
// per-severity count, the badge count an operator dashboard's alert
// bell renders.
func (s *Server) dashboardAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.kpiAlerts.ListActive(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	counts := map[string]int{}
	for _, a := range alerts {
		counts[string(a.Severity)]++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":          alerts,
		"countBySeverity": counts,
	})
}
