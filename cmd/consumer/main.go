package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ClickHouse/clickhouse-go"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/config"
	"OpportunitiesService/internal/consumer"
	"OpportunitiesService/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "consumer").Logger()
	if cfg.ClickhouseDSN == "" {
		log.Fatal().Msg("CLICKHOUSE_DSN is required")
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.MaxReconnects(-1))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	// подключаемся к ClickHouse (база должна существовать)
	db, err := sql.Open("clickhouse", cfg.ClickhouseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ClickHouse")
	}
	defer func() { _ = db.Close() }()

	driver, err := clickhouse.WithInstance(db, &clickhouse.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ClickHouse migrate driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations/clickhouse", "clickhouse", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ClickHouse migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Msg("failed to apply ClickHouse migrations")
	}

	repo := repository.NewClickhouseRepo(db)
	cons := consumer.NewConsumer(repo, cfg.BatchSize, log.Logger)

	ctx, cancelFlusher := context.WithCancel(context.Background())
	go cons.RunFlusher(ctx, 5*time.Second)

	// healthz и readyz
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !nc.IsConnected() {
			writeStatus(w, http.StatusServiceUnavailable, "nats disconnected")
			return
		}
		if err := db.PingContext(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "clickhouse unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	healthSrv := &http.Server{Addr: ":" + cfg.ConsumerPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("port", cfg.ConsumerPort).Msg("starting health server")
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("health server failed")
		}
	}()

	sub, err := nc.Subscribe(cfg.NATSSubject, func(msg *nats.Msg) {
		if err := cons.HandleMessage(ctx, msg.Data); err != nil {
			log.Error().Err(err).Msg("failed to handle message")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("subject", cfg.NATSSubject).Msg("failed to subscribe")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down consumer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Msg("failed to unsubscribe")
	}
	cancelFlusher()
	// остаток буфера пишем уже без отменённого контекста
	if err := cons.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush consumer events")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
