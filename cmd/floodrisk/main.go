package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/flood-risk-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/nasapower"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/openweather"
	"github.com/couchcryptid/flood-risk-service/internal/cache"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/query"
	"github.com/couchcryptid/flood-risk-service/internal/scheduler"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	// Stores: SQLite when a path is configured, in-memory otherwise.
	var (
		observations store.ObservationStore
		risks        store.RiskStore
		sensors      store.SensorStore
		closeStore   func() error
	)
	if cfg.DatabasePath != "" {
		lite, err := store.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
			os.Exit(1)
		}
		observations, risks, sensors = lite, lite, lite
		closeStore = lite.Close
		logger.Info("using sqlite store", "path", cfg.DatabasePath)
	} else {
		mem := store.NewMemory()
		observations, risks, sensors = mem, mem, mem
		closeStore = func() error { return nil }
		logger.Info("using in-memory store, data will not survive restarts")
	}

	readCache := cache.New(cfg, metrics)

	fetcher := openweather.NewClient(cfg.OpenWeatherAPIKey, cfg.OpenWeatherBaseURL, cfg.ProviderTimeout, logger, metrics)

	var history pipeline.HistoryFetcher
	if cfg.NASAPowerEnabled {
		history = nasapower.NewClient(cfg.NASAPowerBaseURL, cfg.MaxHistoricalRange, cfg.ProviderTimeout, logger, metrics)
		logger.Info("nasa power backfill enabled")
	} else {
		logger.Info("nasa power backfill disabled")
	}

	scoringCfg := domain.DefaultScoringConfig()
	scoringCfg.RiverLevelThresholdM = cfg.RiverLevelThresholdM
	scoringCfg.Validity = cfg.AssessmentValidity
	scoringCfg.ForecastHorizon = time.Duration(cfg.ForecastHorizonDays) * 24 * time.Hour
	engine := domain.NewEngine(scoringCfg, clock)

	var alerts pipeline.AlertPublisher
	var publisher *kafkaadapter.Publisher
	var sensorConsumer *kafkaadapter.SensorConsumer
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger, metrics)
		alerts = publisher
		sensorConsumer = kafkaadapter.NewSensorConsumer(cfg, sensors, readCache, logger)
		logger.Info("kafka enabled",
			"brokers", cfg.KafkaBrokers,
			"alert_topic", cfg.KafkaAlertTopic,
			"sensor_topic", cfg.KafkaSensorTopic,
			"alert_min_tier", string(cfg.AlertMinTier),
		)
	} else {
		logger.Info("kafka disabled, alerts and sensor ingest via kafka are off")
	}

	p := pipeline.New(
		fetcher, history, observations, risks, sensors, engine,
		readCache, alerts, logger, metrics, clock,
		pipeline.Options{
			FreshnessThreshold: cfg.FreshnessThreshold,
			CycleTimeout:       cfg.CycleTimeout,
			MaxFetchAttempts:   cfg.MaxFetchAttempts,
			BackoffBase:        cfg.RetryBackoffBase,
			BackoffMax:         cfg.RetryBackoffMax,
			TrailingWindow:     scoringCfg.TrailingWindow,
			SensorMaxAge:       cfg.SensorMaxAge,
			WorkerCount:        cfg.WorkerCount,
		},
	)

	queries := query.New(observations, risks, readCache, cfg.Locations, cfg.MaxHistoricalRange, clock)

	sched, err := scheduler.New(p, cfg.Locations, cfg.RefreshSchedule, logger)
	if err != nil {
		logger.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, queries, p, p, sensors, readCache, clock, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if sensorConsumer != nil {
		go func() {
			if err := sensorConsumer.Run(ctx); err != nil {
				logger.Error("sensor consumer error", "error", err)
			}
		}()
	}

	// Prime the stores before the first scheduled tick.
	go sched.TriggerAll()
	sched.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if sensorConsumer != nil {
		if err := sensorConsumer.Close(); err != nil {
			logger.Error("sensor consumer close error", "error", err)
		}
	}
	if err := publisher.Close(); err != nil {
		logger.Error("alert publisher close error", "error", err)
	}
	if err := closeStore(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
