package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/middleware"
	"github.com/fieldops/control-plane/internal/models"
)

// registerFinancialRoutes exposes the budget/actuals report and the
// expense/revenue/P&L surface backed by the CRM and expense partner
// clients.
func (s *Server) registerFinancialRoutes(r *mux.Router) {
	r.HandleFunc("/financial/budget-actuals-report", s.budgetActualsReport).Methods("GET")
	r.Handle("/financial/budgets", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.createBudget))).Methods("POST")

	r.HandleFunc("/financial/expenses", s.listExpenses).Methods("GET")
	r.Handle("/financial/expenses", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.postExpenseAction))).Methods("POST")
	r.Handle("/financial/expenses/reconcile", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.reconcileExpenses))).Methods("POST")

	r.Handle("/financial/revenue", middleware.RoleGate("admin", "manager")(http.HandlerFunc(s.postRevenue))).Methods("POST")
	r.HandleFunc("/financial/revenue/summary", s.revenueSummary).Methods("GET")
	r.HandleFunc("/financial/pnl", s.profitAndLoss).Methods("GET")
}

// budgetActualsReport reconciles every event's plan against its realized
// spend/revenue.
func (s *Server) budgetActualsReport(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	events, err := s.calendar.ListEvents(r.Context(), limit, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	type row struct {
		EventID string              `json:"eventId"`
		Title   string              `json:"title"`
		Budget  models.EventBudget  `json:"budget"`
		Actuals models.EventActuals `json:"actuals"`
		Variance float64            `json:"variance"`
	}
	out := make([]row, 0, len(events))
	for _, e := range events {
		b, err := s.calendar.GetBudget(r.Context(), e.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		a, err := s.calendar.GetActuals(r.Context(), e.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		out = append(out, row{EventID: e.ID, Title: e.Title, Budget: *b, Actuals: *a, Variance: a.Total - b.Total})
	}
	writeList(w, out, nil)
}

func (s *Server) createBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID string                  `json:"eventId"`
		Items   models.BudgetLineItems  `json:"items"`
		Revenue float64                 `json:"revenue"`
	}
	if err := decodeJSON(r, &req); err != nil || req.EventID == "" {
		writeErr(w, apierr.Validation(map[string]string{"eventId": "required"}))
		return
	}
	b, err := s.calendar.PutBudget(r.Context(), req.EventID, req.Items, req.Revenue)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// listExpenses proxies the expense partner's transaction list (cursor
// pagination, minor-unit money already converted by the mapping layer).
func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.expense.ListTransactions(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeList(w, outcomes, nil)
}

// postExpenseAction drives card suspend/unsuspend, the two write actions
// the expense partner exposes.
func (s *Server) postExpenseAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"` // suspend_card, unsuspend_card
		CardID string `json:"cardId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.CardID == "" {
		writeErr(w, apierr.Validation(map[string]string{"cardId": "required"}))
		return
	}
	var err error
	switch req.Action {
	case "suspend_card":
		err = s.expense.SuspendCard(r.Context(), req.CardID)
	case "unsuspend_card":
		err = s.expense.UnsuspendCard(r.Context(), req.CardID)
	default:
		writeErr(w, apierr.Validation(map[string]string{"action": "must be suspend_card or unsuspend_card"}))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reconcileExpenses fetches department spend for the from/to range from the
// expense partner and returns it; it does not write anything into event
// actuals.
func (s *Server) reconcileExpenses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeJSON(r, &req); err != nil || req.From == "" || req.To == "" {
		writeErr(w, apierr.Validation(map[string]string{"from": "required", "to": "required"}))
		return
	}
	spend, err := s.expense.DepartmentSpend(r.Context(), req.From, req.To)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spend)
}

func (s *Server) postRevenue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID string                 `json:"eventId"`
		Items   models.BudgetLineItems `json:"items"`
		Revenue float64                `json:"revenue"`
	}
	if err := decodeJSON(r, &req); err != nil || req.EventID == "" {
		writeErr(w, apierr.Validation(map[string]string{"eventId": "required"}))
		return
	}
	a, err := s.calendar.UpsertActuals(r.Context(), req.EventID, req.Items, req.Revenue)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) revenueSummary(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	events, err := s.calendar.ListEvents(r.Context(), limit, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	var totalRevenue, totalProfit float64
	for _, e := range events {
		a, err := s.calendar.GetActuals(r.Context(), e.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		totalRevenue += a.Revenue
		totalProfit += a.Profit
	}
	writeJSON(w, http.StatusOK, map[string]float64{"totalRevenue": totalRevenue, "totalProfit": totalProfit})
}

// profitAndLoss proxies the CRM partner's P&L report.
func (s *Server) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeErr(w, apierr.Validation(map[string]string{"from": "required", "to": "required"}))
		return
	}
	report, err := s.crm.ProfitAndLoss(r.Context(), from, to)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
