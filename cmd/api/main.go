package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/fieldops/control-plane/internal/api"
	"github.com/fieldops/control-plane/internal/calendar"
	"github.com/fieldops/control-plane/internal/circuitbreaker"
	"github.com/fieldops/control-plane/internal/config"
	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/importers"
	"github.com/fieldops/control-plane/internal/integrations"
	"github.com/fieldops/control-plane/internal/integrations/mapping"
	"github.com/fieldops/control-plane/internal/kpi"
	"github.com/fieldops/control-plane/internal/metrics"
	"github.com/fieldops/control-plane/internal/middleware"
	"github.com/fieldops/control-plane/internal/migrations"
	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/scheduler"
	"github.com/fieldops/control-plane/internal/signup"
	"github.com/fieldops/control-plane/internal/store"
	syncpkg "github.com/fieldops/control-plane/internal/sync"
	"github.com/fieldops/control-plane/internal/vault"
	"github.com/fieldops/control-plane/internal/wshub"
)

// noopExtractor satisfies signup.Extractor without performing any
// OCR/vision work — bet-slip extraction is out of scope for this
// service; the pipeline only needs something to enqueue against.
type noopExtractor struct{}

func (noopExtractor) Enqueue(ctx context.Context, signUpID, imageKey string, onResult func(signup.ExtractionResult)) {
	onResult(signup.ExtractionResult{Failed: true, Reason: "extraction not configured"})
}

func retryConfigFrom(c config.RetryConfig) retry.Config {
	cfg := retry.DefaultConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialDelayMs > 0 {
		cfg.Initial = time.Duration(c.InitialDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs > 0 {
		cfg.Max = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	return cfg
}

func main() {
	cfg := config.Get()

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to open database connection", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifeMins) * time.Minute)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := migrations.Apply(migrateCtx, db); err != nil {
		migrateCancel()
		slog.Error("failed to apply schema migrations", "error", err)
		os.Exit(1)
	}
	migrateCancel()

	st := store.New(db)
	bus := events.NewBus(st, cfg.Events.ReplayBufferSize)
	mtr := metrics.New()

	v, err := vault.New(st, cfg.Vault.EncryptionKeyHex, cfg.Vault.PreviousKeyHex, time.Duration(cfg.Vault.RefreshSkewSec)*time.Second)
	if err != nil {
		slog.Error("failed to initialize credential vault", "error", err)
		os.Exit(1)
	}

	retryCfg := retryConfigFrom(cfg.Retry)

	breakers := circuitbreaker.NewPartnerBreakers()
	crm := integrations.NewCRMClient(cfg.Integrations.CRM.BaseURL, cfg.Integrations.CRM.PageSize,
		time.Duration(cfg.Integrations.CRM.TimeoutSec)*time.Second, v, breakers.CRM, retryCfg).WithMetrics(mtr)
	expense := integrations.NewExpenseClient(cfg.Integrations.Expense.BaseURL, cfg.Integrations.Expense.PageSize,
		time.Duration(cfg.Integrations.Expense.TimeoutSec)*time.Second, v, breakers.Expense, retryCfg).WithMetrics(mtr)

	orchestrator := syncpkg.NewOrchestrator(st, bus, retryCfg, mtr)

	cal := calendar.New(st, bus)

	pipeline := signup.NewPipeline(st, bus, noopExtractor{}, retryCfg)
	pipeline.RegisterSyncLeg(models.SyncPhaseInitial, func(ctx context.Context, su *models.SignUp, _ models.SyncPhase) error {
		return crm.UpsertCustomer(ctx, mapping.CRMCustomerInternal{
			ExternalID:  su.ID,
			DisplayName: su.CustomerName,
			Email:       su.CustomerEmail,
		})
	})
	pipeline.RegisterSyncLeg(models.SyncPhaseEnriched, func(ctx context.Context, su *models.SignUp, _ models.SyncPhase) error {
		attrs := map[string]interface{}{
			"validationStatus": string(su.ValidationStatus),
		}
		if su.CPAAmount != nil {
			attrs["cpaAmount"] = *su.CPAAmount
		}
		if su.BetAmount != nil {
			attrs["betAmount"] = *su.BetAmount
		}
		if su.TeamBetOn != nil {
			attrs["teamBetOn"] = *su.TeamBetOn
		}
		if su.Odds != nil {
			attrs["odds"] = *su.Odds
		}
		if su.CustomerState != nil {
			attrs["customerState"] = *su.CustomerState
		}
		return crm.UpsertCustomerAttributes(ctx, su.ID, attrs)
	})
	cpaRates := signup.NewCpaRateStore(st)

	kpiThresholds := kpi.NewThresholdStore(st)
	kpiAlerts := kpi.NewAlertStore(st, bus)
	notify := kpi.NewNotificationDispatcher(kpiAlerts, cfg.KPI.NotificationWorkerCount)
	outbox := kpi.NewNotificationOutbox(st)
	for _, ch := range cfg.KPI.NotificationChannels {
		notify.RegisterSender(ch, outbox.Enqueue)
	}
	kpiEval := kpi.NewEvaluator(kpiThresholds, kpiAlerts).WithNotifier(notify).WithMetrics(mtr)

	ambassadors := importers.NewAmbassadorResolver(st)
	operators := importers.NewOperatorResolver(st)
	defaultYear := time.Now().Year()

	signupImporter := importers.NewImporter(st, bus, models.ImportSignups,
		importers.NewSignupImporter(st, pipeline, cpaRates, ambassadors, operators, defaultYear)).WithMetrics(mtr)
	eventImporter := importers.NewImporter(st, bus, models.ImportEvents,
		importers.NewEventImporter(st, ambassadors, defaultYear)).WithMetrics(mtr)
	budgetImporter := importers.NewImporter(st, bus, models.ImportBudgetActuals,
		importers.NewBudgetActualsImporter(st, defaultYear)).WithMetrics(mtr)

	importersByKind := map[string]*importers.Importer{
		string(models.ImportSignups):       signupImporter,
		string(models.ImportEvents):        eventImporter,
		string(models.ImportBudgetActuals): budgetImporter,
	}

	wsRegistry := wshub.NewRegistry(bus, wshub.Config{
		PingInterval: time.Duration(cfg.WebSocket.PingIntervalSec) * time.Second,
		StaleAfter:   time.Duration(cfg.WebSocket.StaleAfterSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WebSocket.WriteTimeoutSec) * time.Second,
	}).WithMetrics(mtr)

	signer := middleware.NewTokenSigner(cfg.Security.HMACSecret, "", time.Duration(cfg.Security.TokenTTLSec)*time.Second)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			slog.Error("redis ping failed, falling back to in-memory rate limiting", "error", err)
		} else {
			limiter = limiter.WithRedis(rdb)
		}
	}

	server := api.NewServer(api.Deps{
		Store:         st,
		Calendar:      cal,
		Signups:       pipeline,
		CpaRates:      cpaRates,
		KPIThresholds: kpiThresholds,
		KPIAlerts:     kpiAlerts,
		KPIEvaluator:  kpiEval,
		CRM:           crm,
		Expense:       expense,
		Orchestrator:  orchestrator,
		Importers:     importersByKind,
		WS:            wsRegistry,
		Signer:        signer,
		RateLimiter:   limiter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wsRegistry.Run(ctx)

	sched := scheduler.New(kpiAlerts, kpiEval)
	snoozeExpr := "@every " + (time.Duration(cfg.KPI.SnoozeSweepIntervalSec) * time.Second).String()
	if err := sched.RegisterSnoozeReactivation(ctx, snoozeExpr); err != nil {
		slog.Error("failed to register snooze reactivation job", "error", err)
	}
	evalInterval := time.Duration(cfg.KPI.ScheduledEvalIntervalSec) * time.Second
	evalExpr := "@every " + evalInterval.String()
	metricsProvider := kpi.NewDBMetricsProvider(st, evalInterval)
	if err := sched.RegisterKPIEvaluation(ctx, evalExpr, metricsProvider.Collect); err != nil {
		slog.Error("failed to register KPI evaluation job", "error", err)
	}
	sched.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.GetPort(),
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer shutdownCancel()
		sched.Stop(shutdownCtx)
		notify.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("control plane API starting", "port", cfg.GetPort())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed to start", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
