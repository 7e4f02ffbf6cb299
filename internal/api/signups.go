package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/middleware"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/signup"
)

// registerSignupRoutes exposes the sign-up intake pipeline: submission,
// validation, extraction review queue, and sync-failure retry/audit.
func (s *Server) registerSignupRoutes(r *mux.Router) {
	submissionSchema := middleware.Validate(func(body map[string]interface{}) map[string]string {
		return middleware.Required(body, "ambassadorId", "operatorId", "customerEmail", "idempotencyKey")
	})

	r.HandleFunc("/signups", s.listSignups).Methods("GET")
	r.Handle("/signups", submissionSchema(http.HandlerFunc(s.createSignup))).Methods("POST")
	r.HandleFunc("/signups/{id}", s.getSignUp).Methods("GET")
	r.Handle("/signups/{id}/validate", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.validateSignup))).Methods("PATCH")
	r.Handle("/signups/event", submissionSchema(http.HandlerFunc(s.submitEventSignup))).Methods("POST")
	r.Handle("/signups/solo", submissionSchema(http.HandlerFunc(s.submitSoloSignup))).Methods("POST")
	r.HandleFunc("/signups/check-duplicate", s.checkSignupDuplicate).Methods("POST")

	r.HandleFunc("/signups/extraction/review-queue", s.signupReviewQueue).Methods("GET")
	r.Handle("/signups/extraction/{id}/extraction/confirm", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.confirmExtraction))).Methods("POST")
	r.Handle("/signups/extraction/{id}/extraction/skip", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.skipExtraction))).Methods("POST")

	r.HandleFunc("/signups/customerio/sync-failures", s.listSyncFailures).Methods("GET")
	r.Handle("/signups/customerio/{id}/retry", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.retrySyncFailure))).Methods("POST")
	r.HandleFunc("/signups/{id}/audit", s.signupAudit).Methods("GET")
}

func (s *Server) listSignups(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	list, err := s.signups.ListAll(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, list, &meta{Limit: &limit, Offset: &offset})
}

func (s *Server) getSignUp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	su, err := s.signups.GetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, su)
}

func decodeSignupInput(r *http.Request) (signup.Input, error) {
	var req struct {
		EventID        *string `json:"eventId"`
		SoloChatID     *string `json:"soloChatId"`
		AmbassadorID   string  `json:"ambassadorId"`
		OperatorID     string  `json:"operatorId"`
		CustomerEmail  string  `json:"customerEmail"`
		CustomerName   string  `json:"customerName"`
		CustomerState  *string `json:"customerState"`
		IdempotencyKey string  `json:"idempotencyKey"`
		ImageKey       *string `json:"imageKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return signup.Input{}, apierr.Validation(map[string]string{"body": "malformed JSON"})
	}
	fields := map[string]string{}
	if req.AmbassadorID == "" {
		fields["ambassadorId"] = "required"
	}
	if req.OperatorID == "" {
		fields["operatorId"] = "required"
	}
	if req.CustomerEmail == "" {
		fields["customerEmail"] = "required"
	}
	if req.IdempotencyKey == "" {
		fields["idempotencyKey"] = "required"
	}
	if len(fields) > 0 {
		return signup.Input{}, apierr.Validation(fields)
	}
	return signup.Input{
		EventID:        req.EventID,
		SoloChatID:     req.SoloChatID,
		AmbassadorID:   req.AmbassadorID,
		OperatorID:     req.OperatorID,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		CustomerState:  req.CustomerState,
		IdempotencyKey: req.IdempotencyKey,
		ImageKey:       req.ImageKey,
	}, nil
}

// createSignup is the generic `POST /signups` entry point; it infers
// event-vs-solo from whether eventId is present rather than requiring the
// caller to pick the right sub-route.
func (s *Server) createSignup(w http.ResponseWriter, r *http.Request) {
	in, err := decodeSignupInput(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	su, err := s.signups.CreateDirect(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, su)
}

func (s *Server) submitEventSignup(w http.ResponseWriter, r *http.Request) {
	in, err := decodeSignupInput(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if in.EventID == nil {
		writeErr(w, apierr.Validation(map[string]string{"eventId": "required"}))
		return
	}
	su, err := s.signups.SubmitEventSignup(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, su)
}

func (s *Server) submitSoloSignup(w http.ResponseWriter, r *http.Request) {
	in, err := decodeSignupInput(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	su, err := s.signups.SubmitSoloSignup(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, su)
}

func (s *Server) checkSignupDuplicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerEmail string `json:"customerEmail"`
		OperatorID    string `json:"operatorId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.CustomerEmail == "" || req.OperatorID == "" {
		writeErr(w, apierr.Validation(map[string]string{"customerEmail": "required", "operatorId": "required"}))
		return
	}
	dup, err := s.signups.CheckDuplicate(r.Context(), req.CustomerEmail, req.OperatorID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"duplicate": dup})
}

// validateSignup applies a reviewer's validated/rejected decision. A
// validated decision resolves the CPA rate and kicks off the enriched
// fan-out leg; a rejection only changes status.
func (s *Server) validateSignup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Status models.ValidationStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	su, err := s.signups.GetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	switch req.Status {
	case models.ValidationValidated:
		rates, err := s.cpaRates.ListActive(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		s.signups.MarkValidated(r.Context(), su, rates)
	case models.ValidationRejected:
		if err := s.signups.Reject(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
	default:
		writeErr(w, apierr.Validation(map[string]string{"status": "must be validated or rejected"}))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

func (s *Server) signupReviewQueue(w http.ResponseWriter, r *http.Request) {
	list, err := s.signups.ReviewQueue(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, list, nil)
}

func (s *Server) confirmExtraction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		BetAmount *float64 `json:"betAmount"`
		TeamBetOn *string  `json:"teamBetOn"`
		Odds      *string  `json:"odds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"body": "malformed JSON"}))
		return
	}
	if err := s.signups.ConfirmExtraction(r.Context(), id, req.BetAmount, req.TeamBetOn, req.Odds); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) skipExtraction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Reason *string `json:"reason"`
	}
	decodeJSON(r, &req)
	if err := s.signups.SkipExtraction(r.Context(), id, req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (s *Server) listSyncFailures(w http.ResponseWriter, r *http.Request) {
	list, err := s.signups.SyncFailures(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, list, nil)
}

func (s *Server) retrySyncFailure(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	phase := r.URL.Query().Get("phase")
	if phase == "" {
		phase = string(models.SyncPhaseInitial)
	}
	su, err := s.signups.GetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.signups.RetrySyncLeg(r.Context(), su, models.SyncPhase(phase))
	writeJSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

func (s *Server) signupAudit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trail, err := s.signups.AuditTrail(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, trail, nil)
}
