package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"emooti/internal/db"
	"emooti/internal/domain/anomaly"
	"emooti/internal/domain/audit"
	domauth "emooti/internal/domain/auth"
	"emooti/internal/domain/directory"
	"emooti/internal/domain/notifications"
	"emooti/internal/domain/privacy"
	"emooti/internal/domain/reports"
	"emooti/internal/domain/retention"
	platformmw "emooti/internal/middleware"
	"emooti/internal/platform/config"
	"emooti/internal/platform/crypto"
	platformdb "emooti/internal/platform/db"
	"emooti/internal/platform/email"
	"emooti/internal/platform/events"
	"emooti/internal/platform/jobs"
	"emooti/internal/platform/metrics"
	"emooti/internal/transport/http/api"
	alertshandler "emooti/internal/transport/http/handlers/alerts"
	audithandler "emooti/internal/transport/http/handlers/audit"
	authhandler "emooti/internal/transport/http/handlers/auth"
	directoryhandler "emooti/internal/transport/http/handlers/directory"
	notificationshandler "emooti/internal/transport/http/handlers/notifications"
	privacyhandler "emooti/internal/transport/http/handlers/privacy"
	reportshandler "emooti/internal/transport/http/handlers/reports"
	retentionhandler "emooti/internal/transport/http/handlers/retention"
	"emooti/internal/transport/http/middleware"
)

func Run() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, "migrations"); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}
	if cfg.RunSeed {
		if err := platformdb.Seed(ctx, pool, cfg); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
	}

	crypt, err := crypto.New(cfg.DataEncryptionKey, cfg.DataEncryptionKeyV)
	if err != nil {
		log.Fatalf("encryption key invalid: %v", err)
	}

	collector := metrics.New()

	auditService := audit.NewService(audit.NewStore(pool))
	if cfg.MetricsEnabled {
		auditService.Metrics = collector
	}

	directoryStore := directory.NewStore(pool)
	notificationService := notifications.New(
		notifications.NewStore(pool),
		directoryStore,
		email.New(cfg),
		cfg.EmailEnabled,
		cfg.EmailFrom,
	)

	publisher := events.New(cfg)
	defer publisher.Close()
	if publisher.Enabled() {
		log.Printf("alert events publishing to redis channel %q", cfg.AlertEventChannel)
	}

	alertService := anomaly.NewService(anomaly.NewStore(pool), notificationService, publisher, collector)
	thresholds := anomaly.DefaultThresholds()
	thresholds.BulkAccess = cfg.BulkAccessThreshold
	thresholds.Export = cfg.ExportThreshold
	thresholds.DistinctIPs = cfg.DistinctIPThreshold
	thresholds.FailedLogins = cfg.FailedLoginLimit
	thresholds.IPWindow = time.Duration(cfg.IPWindowMinutes) * time.Minute

	tracker := anomaly.NewTracker()
	detector := anomaly.NewDetector(tracker, alertService, auditService, thresholds)

	retentionService := retention.NewService(
		retention.NewStore(pool),
		retention.NewDBPurger(pool, directoryStore),
		auditService,
		cfg.RetentionBatchSize,
	)

	privacyService := privacy.NewService(
		privacy.NewStore(pool),
		privacy.NewPseudonymizer(cfg.PseudonymSalt),
		crypt,
		auditService,
	)

	reportService := reports.NewService(reports.NewStore(pool), alertService, auditService)

	runner := jobs.New(pool, cfg, retentionService, notificationService, tracker, collector)
	runner.Start(ctx)

	router := chi.NewRouter()
	router.Use(platformmw.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	if cfg.MetricsEnabled {
		router.Use(middleware.Metrics(collector))
	}
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.Activity(directoryStore, 5*time.Minute))
	router.Use(middleware.AnomalyHook(detector))
	router.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))
	router.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		authhandler.NewHandler(domauth.NewStore(pool), auditService, detector, cfg.JWTSecret).RegisterRoutes(r)
		audithandler.NewHandler(auditService, detector).RegisterRoutes(r)
		alertshandler.NewHandler(alertService, detector).RegisterRoutes(r)
		retentionhandler.NewHandler(retentionService, middleware.NewIdempotencyStore(pool)).RegisterRoutes(r)
		privacyhandler.NewHandler(privacyService).RegisterRoutes(r)
		reportshandler.NewHandler(reportService).RegisterRoutes(r)
		notificationshandler.NewHandler(notificationService).RegisterRoutes(r)
		directoryhandler.NewHandler(directoryStore, auditService).RegisterRoutes(r)

		if cfg.MetricsEnabled {
			r.With(middleware.RequirePermission(domauth.PermReportsRead)).
				Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
					api.Success(w, collector.Snapshot(), middleware.GetRequestID(req.Context()))
				})
		}
	})

	log.Printf("compliance server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
