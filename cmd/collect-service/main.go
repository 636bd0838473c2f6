package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/specimen-tracking/pkg/aggregate"
	"github.com/synaptica-ai/specimen-tracking/pkg/archive"
	"github.com/synaptica-ai/specimen-tracking/pkg/collect"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/config"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/database"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/kafka"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"github.com/synaptica-ai/specimen-tracking/pkg/gateway/middleware"
	"github.com/synaptica-ai/specimen-tracking/pkg/observability/metrics"
	"github.com/synaptica-ai/specimen-tracking/pkg/taxonomy"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.Get()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()

	repo := collect.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate specimen tables")
	}
	submissions := collect.NewSubmissionRepository(db)
	if err := submissions.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate submission log")
	}

	catalog, err := taxonomy.Load(cfg.TaxonomyPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.TaxonomyPath).Warn("taxonomy catalog unavailable, using defaults")
	}
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repo.EnsureMetadata(seedCtx, catalog.Entries()); err != nil {
		logger.Log.WithError(err).Warn("failed to seed taxonomy")
	}
	seedCancel()

	artifactKey, err := collect.ParseArtifactKey(cfg.ArtifactDedup)
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid STT_ARTIFACT_DEDUP")
	}

	deps := collect.ServiceDeps{
		Transformer: collect.NewTransformer(collect.WithArtifactKey(artifactKey)),
		Store:       repo,
		Submissions: submissions,
		Taxonomy:    catalog,
		RetryDelay:  cfg.RetryDelay,
		MaxRetries:  cfg.RetryMaxAttempts,
		LogTTL:      cfg.SubmissionLogTTL,
	}

	if client := database.GetRedis(); client != nil {
		deps.Dedup = collect.NewRedisDeduper(client, cfg.DedupTTL)
		defer database.CloseRedis()
	}

	changes := kafka.NewProducer(cfg, cfg.ChangesTopic)
	defer changes.Close()
	deps.Events = changes

	retry := kafka.NewProducer(cfg, cfg.RetryTopic)
	defer retry.Close()
	deps.Retry = retry

	if cfg.DLQTopic != "" {
		dlq := kafka.NewProducer(cfg, cfg.DLQTopic)
		defer dlq.Close()
		deps.DLQ = dlq
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := archive.FromConfig(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to configure submission archive")
	}
	if blobs != nil {
		deps.Archive = blobs
	}

	svc := collect.NewService(deps)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"database unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	collect.NewHTTPHandler(svc, cfg.MaxRequestBody, cfg.PublisherToken).Register(router)
	aggregate.NewHTTPHandler(aggregate.FromConfig(cfg)).Register(router)
	middleware.Use(router, cfg.MaxRequestBody, cfg.RateLimitRPS, cfg.RateLimitBurst)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.CollectServicePort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.CollectServicePort,
		}).Info("Collect Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := svc.Cleanup(ctx); err != nil {
					logger.Log.WithError(err).Warn("submission log cleanup failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Collect Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Collect Service stopped")
}
