// Command chat-delivery runs the message delivery API server.
//
// It wires the durable stores, the response provider, the connectivity
// prober, and the delivery pipeline together, then serves the HTTP API
// until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/tbourn/go-chat-delivery/internal/config"
	"github.com/tbourn/go-chat-delivery/internal/connectivity"
	httpapi "github.com/tbourn/go-chat-delivery/internal/http"
	"github.com/tbourn/go-chat-delivery/internal/notify"
	"github.com/tbourn/go-chat-delivery/internal/observability"
	"github.com/tbourn/go-chat-delivery/internal/provider"
	"github.com/tbourn/go-chat-delivery/internal/repo"
	"github.com/tbourn/go-chat-delivery/internal/services"
	"github.com/tbourn/go-chat-delivery/internal/sysutil"
)

var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	var prov provider.Provider
	switch cfg.Provider.Kind {
	case "static":
		logger.Info().Msg("using static response provider")
		prov = provider.NewStaticProvider()
	default:
		logger.Info().Str("url", cfg.Provider.BaseURL).Str("model", cfg.Provider.Model).
			Msg("using http response provider")
		prov = provider.NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.Model, cfg.Provider.Timeout)
	}

	monitor := connectivity.NewMonitor(cfg.Connectivity.AssumeOnline)
	monitor.Log = logger

	queue := services.NewOfflineQueue(db, cfg.MaxRetries, logger)
	tracker := services.NewStatusTracker()

	delivery := &services.DeliveryService{
		DB:             db,
		Queue:          queue,
		Provider:       prov,
		Status:         tracker,
		Net:            monitor,
		Notifier:       &notify.LogNotifier{Log: logger},
		Log:            logger,
		MaxPromptRunes: cfg.MaxPromptRunes,
		HistoryLimit:   cfg.HistoryLimit,
		TitleLocale:    language.English,
	}

	// Queued work survives restarts; surface it as failed-but-recoverable
	// before the first request arrives.
	if err := delivery.RestoreStatuses(ctx); err != nil {
		logger.Fatal().Err(err).Msg("restore delivery statuses")
	}

	// Hourly janitor for expired idempotency records.
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := repo.PurgeExpiredIdempotency(ctx, db, time.Now().UTC()); err != nil {
					logger.Warn().Err(err).Msg("purge idempotency records")
				} else if n > 0 {
					logger.Debug().Int64("purged", n).Msg("idempotency janitor")
				}
			}
		}
	}()

	monitor.OnRestored(delivery.HandleOnline)
	prober := &connectivity.Prober{
		Monitor:  monitor,
		Target:   cfg.Connectivity.ProbeTarget,
		Interval: cfg.Connectivity.ProbeInterval,
	}
	go prober.Run(ctx)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{Delivery: delivery, Queue: queue}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
