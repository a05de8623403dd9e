package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yourorg/identsync/internal/audit"
	"github.com/yourorg/identsync/internal/broadcast"
	"github.com/yourorg/identsync/internal/cache"
	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/internal/featureflags"
	"github.com/yourorg/identsync/internal/handler"
	"github.com/yourorg/identsync/internal/infrastructure/kafka"
	"github.com/yourorg/identsync/internal/infrastructure/logger"
	"github.com/yourorg/identsync/internal/infrastructure/redis"
	"github.com/yourorg/identsync/internal/observability/metrics"
	"github.com/yourorg/identsync/internal/observability/tracing"
	"github.com/yourorg/identsync/internal/repository"
	"github.com/yourorg/identsync/internal/service"
	"github.com/yourorg/identsync/internal/worker"
	"github.com/yourorg/identsync/pkg/config"
	"github.com/yourorg/identsync/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	log.Info("starting identsync server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Connect to Postgres
	pool, err := database.NewConnectionPool(ctx, &cfg.Database, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	db := pool.GetDB()

	// 5. Connect to Redis. The cache is fail-soft at runtime, but a bad URL
	// at startup is a configuration error.
	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	// 6. Kafka producer and event broadcaster
	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers})
	defer producer.Close()

	broadcaster := broadcast.New(producer, broadcast.Config{
		MaxAttempts: cfg.EventRetryAttempts,
		Backoff:     cfg.EventRetryBackoff,
	}, log)
	defer broadcaster.Close()

	// 7. Repositories
	userRepo := repository.NewPostgresUserRepository(db, log)
	orgRepo := repository.NewPostgresOrganizationRepository(db, log)

	// Roles are immutable reference data; memoize them in process memory.
	var roleRepo domain.RoleRepository = repository.NewPostgresRoleRepository(db, log)
	roleRepo = repository.NewCachingRoleRepository(roleRepo, 5*time.Minute)
	orgDomainRepo := repository.NewPostgresOrgDomainRepository(db, log)
	requestRepo := repository.NewPostgresOrgRoleRequestRepository(db, log)
	formRepo := repository.NewPostgresFormRepository(db, log)
	refresher := repository.NewPostgresViewRefresher(db, cfg.MaterializedViews, log)

	// 8. Cache store and audit
	store := cache.NewStore(redisClient, cfg.CacheTTL, log)
	auditLogger := audit.NewLogger(log)

	// 9. Services
	reconciliation := service.NewReconciliationService(
		userRepo, orgRepo, roleRepo, store, broadcaster, auditLogger, log, cfg.DefaultOrgCode,
	)
	organizations := service.NewOrganizationService(
		orgRepo, orgDomainRepo, requestRepo, roleRepo, store, broadcaster, log,
	)
	forms := service.NewFormService(formRepo, orgRepo, store, broadcaster, log, cfg.DefaultOrgCode)

	// 10. View refresh scheduler. The kill switch covers environments where
	// the materialized views do not exist yet; manual triggers still work.
	scheduler := worker.NewViewRefreshScheduler(refresher, cfg.ViewRefreshInterval, log)
	scheduler.SetManualOnly(featureflags.Enabled("disable_periodic_view_refresh"))
	go scheduler.Start(ctx)

	// 11. Handlers and routes
	adminHandler := handler.NewAdminHandler(reconciliation, log)
	orgHandler := handler.NewOrganizationHandler(organizations, log)
	formHandler := handler.NewFormHandler(forms, log)
	opsHandler := handler.NewOpsHandler(scheduler, broadcaster, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/organizations/{orgID}/admins/{userID}", adminHandler.AssignOrgAdmin)
	mux.HandleFunc("POST /api/admin/organizations/{orgID}/deactivate", adminHandler.DeactivateOrganization)
	mux.HandleFunc("POST /api/admin/users/deactivate", adminHandler.DeactivateUsers)
	mux.HandleFunc("DELETE /api/admin/users/{userID}", adminHandler.DeleteUser)
	mux.HandleFunc("POST /api/admin/users", adminHandler.CreateAdmin)

	mux.HandleFunc("POST /api/organizations", orgHandler.Create)
	mux.HandleFunc("PUT /api/organizations/{orgID}", orgHandler.Update)
	mux.HandleFunc("GET /api/organizations/code/{code}", orgHandler.ReadByCode)
	mux.HandleFunc("GET /api/organizations/batch", orgHandler.Batch)
	mux.HandleFunc("GET /api/organizations/{orgID}", orgHandler.Read)
	mux.HandleFunc("GET /api/organizations", orgHandler.List)
	mux.HandleFunc("POST /api/organizations/{orgID}/role-requests", orgHandler.RequestRole)

	mux.HandleFunc("POST /api/forms", formHandler.Create)
	mux.HandleFunc("PUT /api/forms/{formID}", formHandler.Update)
	mux.HandleFunc("GET /api/forms/versions", formHandler.Versions)
	mux.HandleFunc("GET /api/forms", formHandler.Read)

	mux.HandleFunc("POST /api/ops/refresh-views", opsHandler.TriggerRefresh)
	mux.HandleFunc("GET /api/ops/dead-letters", opsHandler.DeadLetters)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)

	rootHandler := withRequestID(otelhttp.NewHandler(mux, "identsync"), log)

	// 12. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting", slog.Int("port", cfg.ServerPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // stop the refresh scheduler

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}

	log.Info("server stopped")
}

type requestIDKey struct{}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
