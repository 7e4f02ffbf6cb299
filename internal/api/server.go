package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldops/control-plane/internal/calendar"
	"github.com/fieldops/control-plane/internal/importers"
	"github.com/fieldops/control-plane/internal/integrations"
	"github.com/fieldops/control-plane/internal/kpi"
	"github.com/fieldops/control-plane/internal/middleware"
	"github.com/fieldops/control-plane/internal/signup"
	"github.com/fieldops/control-plane/internal/store"
	"github.com/fieldops/control-plane/internal/sync"
	"github.com/fieldops/control-plane/internal/wshub"
)

// Server is the HTTP surface: a mux.NewRouter with a CORS middleware
// shape, extended with the auth/role/validate chain this service needs.
type Server struct {
	router          *mux.Router
	store           *store.Store
	calendar        *calendar.Calendar
	signups         *signup.Pipeline
	cpaRates        *signup.CpaRateStore
	kpiThresh       *kpi.ThresholdStore
	kpiAlerts       *kpi.AlertStore
	kpiEval         *kpi.Evaluator
	crm             *integrations.CRMClient
	expense         *integrations.ExpenseClient
	orchestrator    *sync.Orchestrator
	importersByKind map[string]*importers.Importer
	ws              *wshub.Registry
	signer          *middleware.TokenSigner
	rateLimiter     *middleware.RateLimiter
}

// Deps wires every component Server's handlers call into.
type Deps struct {
	Store         *store.Store
	Calendar      *calendar.Calendar
	Signups       *signup.Pipeline
	CpaRates      *signup.CpaRateStore
	KPIThresholds *kpi.ThresholdStore
	KPIAlerts     *kpi.AlertStore
	KPIEvaluator  *kpi.Evaluator
	CRM           *integrations.CRMClient
	Expense       *integrations.ExpenseClient
	Orchestrator  *sync.Orchestrator
	Importers     map[string]*importers.Importer
	WS            *wshub.Registry
	Signer        *middleware.TokenSigner
	RateLimiter   *middleware.RateLimiter
}

func NewServer(d Deps) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		store:           d.Store,
		calendar:        d.Calendar,
		signups:         d.Signups,
		cpaRates:        d.CpaRates,
		kpiThresh:       d.KPIThresholds,
		kpiAlerts:       d.KPIAlerts,
		kpiEval:         d.KPIEvaluator,
		crm:             d.CRM,
		expense:         d.Expense,
		orchestrator:    d.Orchestrator,
		importersByKind: d.Importers,
		ws:              d.WS,
		signer:          d.Signer,
		rateLimiter:     d.RateLimiter,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(corsMiddleware)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.Auth(s.signer))
	if s.rateLimiter != nil {
		v1.Use(s.rateLimiter.Middleware)
	}

	s.registerEventRoutes(v1)
	s.registerSignupRoutes(v1)
	s.registerFinancialRoutes(v1)
	s.registerAdminRoutes(v1)
	s.registerKPIRoutes(v1)
	s.registerDashboardRoutes(v1)

	v1.HandleFunc("/ws", s.handleWebSocket)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	role, _ := middleware.Role(r.Context())
	s.ws.HandleWebSocket(w, r, userID, role)
}

// Start listens on port and serves until the process is signaled to stop.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Printf("[API] listening on %s", addr)
	return srv.ListenAndServe()
}

// Shutdown gives in-flight requests a grace period before returning.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
