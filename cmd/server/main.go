/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Countermeasure settlement engine: ledger
  store, settler, scheduler driver, and the ops HTTP server.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment); invalid config is fatal
  2. Open the SQLite ledger store
  3. Wire the notifier (webhook when configured, log otherwise)
  4. Start the driver: backfill missed runs, then the periodic loop
  5. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels its sleep, waits for the loop to exit)
  2. Stop accepting new connections, drain in-flight requests
  3. Close the database

ENVIRONMENT:
  SCHEDULER_RUNS_UTC   anchor hour, 0-23 (required)
  PAYOUT_STEP          settlement period in days (required)
  DB_PATH              SQLite path (default countermeasure.db)
  PORT                 HTTP port (default 8080)
  ANNOUNCE_WEBHOOK_URL optional announcement webhook
  DEBUG                verbose logging

SEE ALSO:
  - config/config.go: environment decoding and validation
  - economy/driver.go: the scheduler loop
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/countermeasure/economy-engine/api"
	"github.com/countermeasure/economy-engine/config"
	"github.com/countermeasure/economy-engine/economy"
	"github.com/countermeasure/economy-engine/notify"
	"github.com/countermeasure/economy-engine/store/sqlite"
)

func main() {
	envFile := flag.String("env", ".env", "path to optional .env file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	if cfg.Debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	var notifier economy.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL)
	} else {
		notifier = &notify.Logger{Log: log}
	}

	settler := economy.NewSettler(store, notifier, log)
	driver := economy.NewDriver(settler, cfg.AnchorHourUTC, cfg.PeriodDays, log)

	// Start blocks until the backfill of missed runs has finished.
	ctx := context.Background()
	if err := driver.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	handler := api.NewHandler(store, settler, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("ops API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	driver.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
