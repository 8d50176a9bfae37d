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

	"github.com/Carlvebbesen/IntervalInsights/internal/analysis"
	"github.com/Carlvebbesen/IntervalInsights/internal/api"
	"github.com/Carlvebbesen/IntervalInsights/internal/auth"
	"github.com/Carlvebbesen/IntervalInsights/internal/config"
	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
	"github.com/Carlvebbesen/IntervalInsights/internal/oracle"
	"github.com/Carlvebbesen/IntervalInsights/internal/outbox"
	"github.com/Carlvebbesen/IntervalInsights/internal/pace"
	persistence "github.com/Carlvebbesen/IntervalInsights/internal/persistence/postgres"
	"github.com/Carlvebbesen/IntervalInsights/internal/strava"
	httptransport "github.com/Carlvebbesen/IntervalInsights/internal/transport/http"
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
	history := persistence.NewHistoryRepository(pool)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, log)
	go dispatcher.Start(ctx)

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
	proposer := pace.NewEngine(history, cfg.RecencyWindow, cfg.HistoryLimit, log)

	handler := api.NewHandler(activities, orchestrator, proposer, tracker, tokens, cfg.WebhookVerifyToken, log)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, api.Skipper)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(mux))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("interval-insights api listening", "address", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "error", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	dispatcher.Wait()
}
