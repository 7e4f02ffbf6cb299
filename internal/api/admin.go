package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/importers"
	"github.com/fieldops/control-plane/internal/middleware"
	"github.com/fieldops/control-plane/internal/sync"
)

// registerAdminRoutes exposes the bulk CSV import surface: parse/validate
// are read-only preview passes over the uploaded content, execute is the
// transactional row-by-row apply, and reconcile re-checks an
// already-uploaded file's duplicate/unresolved counts after an operator
// has fixed data out of band.
func (s *Server) registerAdminRoutes(r *mux.Router) {
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RoleGate("admin", "manager"))

	admin.HandleFunc("/imports/parse", s.importParse).Methods("POST")
	admin.HandleFunc("/imports/validate", s.importValidate).Methods("POST")
	admin.HandleFunc("/imports/reconcile", s.importReconcile).Methods("POST")
	admin.HandleFunc("/imports/execute", s.importExecute).Methods("POST")
	admin.HandleFunc("/imports/{id}", s.importByID).Methods("GET")
	admin.HandleFunc("/imports/{id}", s.importAction).Methods("POST")
	admin.HandleFunc("/imports/{id}/audit-trail", s.importAuditTrail).Methods("GET")

	admin.HandleFunc("/sync/{integration}", s.triggerSync).Methods("POST")
	admin.HandleFunc("/sync/{integration}/pause", s.pauseSync).Methods("POST")
	admin.HandleFunc("/sync/{integration}/cleanup", s.cleanupSyncCheckpoints).Methods("POST")
}

// pauseSync marks a checkpoint paused; the next run for the same
// (integration, syncType) resumes from it.
func (s *Server) pauseSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckpointID string `json:"checkpointId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.CheckpointID == "" {
		writeErr(w, apierr.Validation(map[string]string{"checkpointId": "required"}))
		return
	}
	if err := s.orchestrator.PauseSync(r.Context(), req.CheckpointID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// cleanupSyncCheckpoints prunes completed/failed checkpoints beyond the
// keepLast most recent for one (integration, syncType).
func (s *Server) cleanupSyncCheckpoints(w http.ResponseWriter, r *http.Request) {
	integration := mux.Vars(r)["integration"]
	var req struct {
		SyncType string `json:"syncType"`
		KeepLast int    `json:"keepLast"`
	}
	if err := decodeJSON(r, &req); err != nil || req.SyncType == "" {
		writeErr(w, apierr.Validation(map[string]string{"syncType": "required"}))
		return
	}
	if req.KeepLast <= 0 {
		req.KeepLast = 5
	}
	if err := s.orchestrator.CleanupOldCheckpoints(r.Context(), integration, req.SyncType, req.KeepLast); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

// importAction drives cancel/rollback on an existing import run. The
// importer kind is read back off the import log, since rollback delegates
// domain-row cleanup to the kind's own processor.
func (s *Server) importAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Action string `json:"action"` // cancel, rollback
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierr.Validation(map[string]string{"action": "required"}))
		return
	}
	l, err := importers.GetLog(r.Context(), s.store, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	im, err := s.resolveImporter(string(l.Kind))
	if err != nil {
		writeErr(w, err)
		return
	}
	switch req.Action {
	case "cancel":
		err = im.CancelImport(r.Context(), id)
	case "rollback":
		err = im.RollbackImport(r.Context(), id)
	default:
		writeErr(w, apierr.Validation(map[string]string{"action": "must be cancel or rollback"}))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Action})
}

// triggerSync kicks off a checkpointed partner sync for "crm" (CRM
// customers) or "expense" (expense transactions). The orchestrator run
// claims or resumes the checkpoint itself, so a second trigger while one
// is already in flight exits cleanly rather than double-processing; the
// run is detached from the request context so a client disconnect
// doesn't cancel a long-running sync mid-page.
func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	integration := mux.Vars(r)["integration"]

	var syncType string
	var fetch sync.Fetcher
	var upsert sync.Upserter

	switch integration {
	case "crm":
		syncType = sync.SyncTypeCRMCustomers
		fetch = sync.CRMCustomerFetcher(s.crm)
		upsert = sync.CRMCustomerUpserter
	case "expense":
		syncType = sync.SyncTypeExpenseTransactions
		fetch = sync.ExpenseTransactionFetcher(s.expense)
		upsert = sync.ExpenseTransactionUpserter
	default:
		writeErr(w, apierr.Validation(map[string]string{"integration": "must be one of: crm, expense"}))
		return
	}

	go func() {
		ctx := context.Background()
		if err := s.orchestrator.Run(ctx, integration, syncType, fetch, upsert); err != nil {
			slog.Error("sync run failed", "integration", integration, "syncType", syncType, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"integration": integration,
		"syncType":    syncType,
		"status":      "started",
	})
}

type importUploadRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

func (s *Server) resolveImporter(kind string) (*importers.Importer, error) {
	im, ok := s.importersByKind[kind]
	if !ok {
		return nil, apierr.Validation(map[string]string{"kind": "unknown import kind"})
	}
	return im, nil
}

func (s *Server) decodeImportUpload(w http.ResponseWriter, r *http.Request) (*importers.Importer, string, bool) {
	var req importUploadRequest
	if err := decodeJSON(r, &req); err != nil || req.Kind == "" || req.Content == "" {
		writeErr(w, apierr.Validation(map[string]string{"kind": "required", "content": "required"}))
		return nil, "", false
	}
	im, err := s.resolveImporter(req.Kind)
	if err != nil {
		writeErr(w, err)
		return nil, "", false
	}
	return im, req.Content, true
}

// importParse runs the header-detection + sample-row pass only.
func (s *Server) importParse(w http.ResponseWriter, r *http.Request) {
	im, content, ok := s.decodeImportUpload(w, r)
	if !ok {
		return
	}
	result, err := im.Preview(r.Context(), content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// importValidate reuses the same preview pass; for kinds implementing
// PreviewChecker this also surfaces would-be-duplicate and
// unresolved-entity counts so an operator can fix the file before
// executing it.
func (s *Server) importValidate(w http.ResponseWriter, r *http.Request) {
	im, content, ok := s.decodeImportUpload(w, r)
	if !ok {
		return
	}
	result, err := im.Preview(r.Context(), content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// importReconcile re-runs the preview pass against a resubmitted file so
// an operator can confirm their out-of-band fixes cleared the duplicate
// and unresolved-entity counts before executing.
func (s *Server) importReconcile(w http.ResponseWriter, r *http.Request) {
	im, content, ok := s.decodeImportUpload(w, r)
	if !ok {
		return
	}
	result, err := im.Preview(r.Context(), content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) importExecute(w http.ResponseWriter, r *http.Request) {
	im, content, ok := s.decodeImportUpload(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())
	log, err := im.Run(r.Context(), content, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, log)
}

func (s *Server) importByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l, err := importers.GetLog(r.Context(), s.store, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) importAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trail, err := importers.AuditTrailFor(r.Context(), s.store, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, trail, nil)
}
