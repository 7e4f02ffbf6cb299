package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/middleware"
	"github.com/fieldops/control-plane/internal/models"
)

// registerKPIRoutes exposes threshold/alert management; the read-only
// dashboard/* analytics views are registered separately in dashboard.go.
func (s *Server) registerKPIRoutes(r *mux.Router) {
	r.Handle("/kpi/thresholds", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.createThreshold))).Methods("POST")
	r.HandleFunc("/kpi/thresholds", s.listThresholds).Methods("GET")
	r.HandleFunc("/kpi/thresholds/{id}", s.getThreshold).Methods("GET")
	r.Handle("/kpi/thresholds/{id}", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.updateThreshold))).Methods("PUT")
	r.Handle("/kpi/thresholds/{id}/rollback", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.rollbackThreshold))).Methods("POST")
	r.HandleFunc("/kpi/thresholds/{id}/at", s.getThresholdAtTime).Methods("GET")

	r.HandleFunc("/kpi/alerts", s.listAlerts).Methods("GET")
	r.HandleFunc("/kpi/alerts/{id}/acknowledge", s.acknowledgeAlert).Methods("POST")
	r.HandleFunc("/kpi/alerts/{id}/resolve", s.resolveAlert).Methods("POST")
	r.HandleFunc("/kpi/alerts/{id}/snooze", s.snoozeAlert).Methods("POST")
}

func (s *Server) createThreshold(w http.ResponseWriter, r *http.Request) {
	var t models.KPIThreshold
	if err := decodeJSON(r, &t); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	created, err := s.kpiThresh.CreateThreshold(r.Context(), t)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listThresholds(w http.ResponseWriter, r *http.Request) {
	list, err := s.kpiThresh.ListEnabled(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, list, nil)
}

func (s *Server) getThreshold(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := s.kpiThresh.GetThreshold(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateThreshold(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var patch models.KPIThreshold
	if err := decodeJSON(r, &patch); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	updated, err := s.kpiThresh.UpdateThreshold(r.Context(), id, func(t *models.KPIThreshold) {
		*t = patch
		t.ID = id
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// getThresholdAtTime answers "what did this rule say at time t" from the
// version history.
func (s *Server) getThresholdAtTime(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	at := time.Now()
	if raw := r.URL.Query().Get("t"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErr(w, apierr.Validation(map[string]string{"t": "must be RFC3339"}))
			return
		}
		at = parsed
	}
	t, err := s.kpiThresh.GetThresholdAtTime(r.Context(), id, at)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) rollbackThreshold(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		TargetVersion int     `json:"targetVersion"`
		Reason        *string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	rolled, err := s.kpiThresh.RollbackThreshold(r.Context(), id, req.TargetVersion, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rolled)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := s.kpiAlerts.ListActive(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, list, nil)
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID, _ := middleware.UserID(r.Context())
	if err := s.kpiAlerts.Acknowledge(r.Context(), id, userID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID, _ := middleware.UserID(r.Context())
	if err := s.kpiAlerts.Resolve(r.Context(), id, userID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) snoozeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	minutes, _ := strconv.Atoi(r.URL.Query().Get("minutes"))
	if minutes <= 0 {
		minutes = 60
	}
	if err := s.kpiAlerts.Snooze(r.Context(), id, minutes); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "snoozed"})
}
