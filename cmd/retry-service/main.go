package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/specimen-tracking/pkg/collect"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/config"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/database"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/kafka"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"github.com/synaptica-ai/specimen-tracking/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
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
	submissions := collect.NewSubmissionRepository(db)

	artifactKey, err := collect.ParseArtifactKey(cfg.ArtifactDedup)
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid STT_ARTIFACT_DEDUP")
	}

	changes := kafka.NewProducer(cfg, cfg.ChangesTopic)
	defer changes.Close()
	retry := kafka.NewProducer(cfg, cfg.RetryTopic)
	defer retry.Close()

	deps := collect.ServiceDeps{
		Transformer: collect.NewTransformer(collect.WithArtifactKey(artifactKey)),
		Store:       repo,
		Submissions: submissions,
		Events:      changes,
		Retry:       retry,
		RetryDelay:  cfg.RetryDelay,
		MaxRetries:  cfg.RetryMaxAttempts,
		LogTTL:      cfg.SubmissionLogTTL,
	}
	if cfg.DLQTopic != "" {
		dlq := kafka.NewProducer(cfg, cfg.DLQTopic)
		defer dlq.Close()
		deps.DLQ = dlq
	}
	svc := collect.NewService(deps)

	consumer := kafka.NewConsumer(cfg, cfg.RetryTopic, cfg.KafkaGroupID+"-retry")
	defer consumer.Close()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.RetryServicePort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithFields(map[string]interface{}{
			"topic": cfg.RetryTopic,
			"port":  cfg.RetryServicePort,
		}).Info("Retry Service started")
		return consumer.Consume(gctx, collect.RetryHandler(svc))
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("Retry Service exited with error")
	}
	logger.Log.Info("Retry Service stopped")
}
