package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/Carlvebbesen/IntervalInsights/internal/analysis"
	"github.com/Carlvebbesen/IntervalInsights/internal/config"
	"github.com/Carlvebbesen/IntervalInsights/internal/consumer"
	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
	"github.com/Carlvebbesen/IntervalInsights/internal/oracle"
	persistence "github.com/Carlvebbesen/IntervalInsights/internal/persistence/postgres"
	"github.com/Carlvebbesen/IntervalInsights/internal/strava"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("connecting to postgres", "error", err)
	}
	defer pool.Close()

	activities := persistence.NewRepository(pool, persistence.Topics{
		Sync:     cfg.SyncTopic,
		Analysis: cfg.AnalysisTopic,
	})
	structures := persistence.NewStructureRepository(pool)
	users := persistence.NewUserRepository(pool)

	tracker := strava.NewClient(cfg.TrackerBaseURL)
	tokens := strava.NewTokenManager(cfg.TrackerClientID, cfg.TrackerClientSecret, cfg.TrackerTokenURL, users)
	oracleClient := oracle.NewClient(oracle.Config{
		BaseURL:    cfg.OracleBaseURL,
		APIKey:     cfg.OracleAPIKey,
		Model:      cfg.OracleModel,
		Timeout:    cfg.OracleTimeout,
		MaxRetries: cfg.OracleMaxRetries,
	}, log)

	orchestrator := analysis.NewOrchestrator(activities, structures, tracker, tokens, oracleClient, analysis.Config{
		BucketSeconds:  cfg.SummaryBucketSeconds,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMargin:    cfg.RetryMargin,
		StaggerDelay:   cfg.StaggerDelay,
	}, log)
	handler := consumer.NewAnalysisHandler(orchestrator, log)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Info("consumer metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroup,
		Topic:           cfg.SyncTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	proc := consumer.NewProcessor(reader, handler, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reader.Close()

		log.Info("consumer started", "topic", cfg.SyncTopic, "group", cfg.ConsumerGroup)
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			log.Error("consumer stopped with error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}

	<-done
}
