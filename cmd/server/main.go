package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MailCourier/internal/api"
	"MailCourier/internal/attachment"
	"MailCourier/internal/automation"
	"MailCourier/internal/cloud"
	"MailCourier/internal/config"
	"MailCourier/internal/db"
	"MailCourier/internal/email"
	"MailCourier/internal/mapping"
	"MailCourier/internal/metrics"
	"MailCourier/internal/models"
	"MailCourier/internal/schedule"
	"MailCourier/internal/state"
	"MailCourier/internal/templates"
	"MailCourier/internal/txlog"
	"MailCourier/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	var store db.JobStore
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory job store, state is lost on exit")
		store = db.NewMemoryStore()
	default:
		pg, err := db.New(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		store = pg
	}
	defer store.Close()

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Email Sender
	// ------------------------------------------------
	sender := email.NewSender(email.Credentials{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, cfg.RetryAttempts, logger)

	// ------------------------------------------------
	// Cloud Uploader
	// ------------------------------------------------
	var uploader attachment.Uploader
	if cfg.CloudEnabled() {
		up, err := cloud.NewHTTPUploader(ctx, cloud.Config{
			BaseURL:      cfg.CloudBaseURL,
			TokenURL:     cfg.CloudTokenURL,
			ClientID:     cfg.CloudClientID,
			ClientSecret: cfg.CloudClientSecret,
			Scopes:       cfg.CloudScopeList(),
			Timeout:      5 * time.Minute,
		}, logger)
		if err != nil {
			logger.Fatal("cloud uploader setup failed", zap.Error(err))
		}
		uploader = up
	} else {
		logger.Info("cloud uploader not configured, large attachments are capped at the safe size")
	}

	// ------------------------------------------------
	// Transaction Log
	// ------------------------------------------------
	sinks := txlog.Multi{txlog.NewLogSink(logger)}
	if cfg.TxLogFile != "" {
		fileSink, err := txlog.NewFileSink(cfg.TxLogFile)
		if err != nil {
			logger.Fatal("transaction log setup failed", zap.Error(err))
		}
		sinks = append(sinks, fileSink)
	}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kafkaSink, err := txlog.NewKafkaSink(txlog.KafkaConfig{
			Brokers: brokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err != nil {
			logger.Fatal("kafka sink setup failed", zap.Error(err))
		}
		sinks = append(sinks, kafkaSink)
	}
	defer sinks.Close()

	// ------------------------------------------------
	// Rate Limiter
	// ------------------------------------------------
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	// ------------------------------------------------
	// Automation
	// ------------------------------------------------
	st := state.New(cfg.DefaultSettings(), models.Schedule{
		Frequency: models.FrequencyDaily,
		TimeOfDay: schedule.DefaultTimeOfDay,
	})

	processor := worker.NewProcessor(worker.Deps{
		Store:       store,
		State:       st,
		Transport:   sender,
		Attachments: attachment.NewEngine(cfg.ArchiveDir, uploader, logger),
		Validator:   mapping.NewValidator(store),
		Templates:   templates.NewResolver(templates.NewDirStore(cfg.TemplateDir), cfg.DefaultTemplatePath, logger),
		Limiter:     limiter,
		Sink:        sinks,
	}, worker.Config{
		QueueWait:     cfg.QueuePopWait,
		EstimateRatio: cfg.EstimateRatio,
		KeepArchives:  cfg.KeepArchives,
	}, logger)

	manager := automation.NewManager(store, st, processor, automation.Config{
		PollInterval: cfg.SchedulePollInterval,
	}, logger)

	if err := manager.Load(ctx); err != nil {
		logger.Fatal("failed to restore automation config", zap.Error(err))
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Automation: manager,
		Store:      store,
		Log:        logger,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiHandler.Routes(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Let the job in flight finish before closing the store
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("automation shutdown incomplete", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
