package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/middleware"
	"github.com/fieldops/control-plane/internal/models"
)

// registerEventRoutes exposes the Event/Assignment lifecycle and the
// per-event budget/actuals pair.
func (s *Server) registerEventRoutes(r *mux.Router) {
	r.HandleFunc("/events", s.listEvents).Methods("GET")
	r.Handle("/events", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.createEvent))).Methods("POST")
	r.HandleFunc("/events/{id}", s.getEvent).Methods("GET")
	r.Handle("/events/{id}", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.updateEvent))).Methods("PUT")
	r.Handle("/events/{id}", middleware.RoleGate("admin")(http.HandlerFunc(s.deleteEvent))).Methods("DELETE")
	r.Handle("/events/{id}/duplicate", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.duplicateEvent))).Methods("POST")
	r.Handle("/events/{id}/duplicate/bulk", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.duplicateEventBulk))).Methods("POST")
	r.HandleFunc("/events/{id}/duplicate/preview", s.duplicateEventPreview).Methods("GET")
	r.Handle("/events/{id}/status", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.transitionEventStatus))).Methods("POST")
	r.HandleFunc("/events/{id}/history", s.eventStatusHistory).Methods("GET")

	r.Handle("/events/{id}/assignments", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.assignAmbassador))).Methods("POST")
	r.HandleFunc("/events/{id}/assignments", s.listAssignments).Methods("GET")
	r.Handle("/assignments/{id}/status", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.updateAssignmentStatus))).Methods("PATCH")

	r.HandleFunc("/events/{id}/budget", s.getEventBudget).Methods("GET")
	r.Handle("/events/{id}/budget", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.putEventBudget))).Methods("PUT")
	r.HandleFunc("/events/{id}/actuals", s.getEventActuals).Methods("GET")
	r.Handle("/events/{id}/actuals", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.putEventActuals))).Methods("PUT")
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	list, err := s.calendar.ListEvents(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, list, &meta{Limit: &limit, Offset: &offset})
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var e models.Event
	if err := decodeJSON(r, &e); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	created, err := s.calendar.CreateEvent(r.Context(), e)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, err := s.calendar.GetEvent(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var e models.Event
	if err := decodeJSON(r, &e); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	updated, err := s.calendar.UpdateEvent(r.Context(), id, e)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.calendar.DeleteEvent(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func parseDates(raw []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, apierr.Validation(map[string]string{"dates": "must be YYYY-MM-DD"})
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Server) duplicateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	dates, err := parseDates([]string{req.Date})
	if err != nil {
		writeErr(w, err)
		return
	}
	clone, err := s.calendar.DuplicateEvent(r.Context(), id, dates[0])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

func (s *Server) duplicateEventBulk(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Dates []string `json:"dates"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	dates, err := parseDates(req.Dates)
	if err != nil {
		writeErr(w, err)
		return
	}
	created, skipped, err := s.calendar.DuplicateBulk(r.Context(), id, dates)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"created": created, "skipped": skipped})
}

func (s *Server) duplicateEventPreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dates, err := parseDates(r.URL.Query()["date"])
	if err != nil {
		writeErr(w, err)
		return
	}
	preview, err := s.calendar.PreviewDuplicate(r.Context(), id, dates)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, preview, nil)
}

func (s *Server) transitionEventStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Status models.EventStatus `json:"status"`
		Reason *string            `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	actor, _ := middleware.UserID(r.Context())
	e, err := s.calendar.TransitionStatus(r.Context(), id, req.Status, actor, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) eventStatusHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hist, err := s.calendar.StatusHistory(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, hist, nil)
}

func (s *Server) assignAmbassador(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		AmbassadorID string `json:"ambassadorId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.AmbassadorID == "" {
		writeErr(w, apierr.Validation(map[string]string{"ambassadorId": "required"}))
		return
	}
	a, err := s.calendar.AssignAmbassador(r.Context(), id, req.AmbassadorID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) listAssignments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	list, err := s.calendar.ListAssignments(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, list, nil)
}

func (s *Server) updateAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Status models.AssignmentStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	if err := s.calendar.UpdateAssignmentStatus(r.Context(), id, req.Status); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) getEventBudget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.calendar.GetBudget(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) putEventBudget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Items   models.BudgetLineItems `json:"items"`
		Revenue float64                `json:"revenue"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	b, err := s.calendar.PutBudget(r.Context(), id, req.Items, req.Revenue)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) getEventActuals(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := s.calendar.GetActuals(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) putEventActuals(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Items   models.BudgetLineItems `json:"items"`
		Revenue float64                `json:"revenue"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	a, err := s.calendar.UpsertActuals(r.Context(), id, req.Items, req.Revenue)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
