package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/config"
	"OpportunitiesService/internal/listing"
	"OpportunitiesService/internal/model"
	"OpportunitiesService/internal/repository"
	"OpportunitiesService/internal/service"
	externalHttp "OpportunitiesService/internal/transport/http"
	"OpportunitiesService/pkg/cache"
	"OpportunitiesService/pkg/events"
	"OpportunitiesService/pkg/pgnotify"
	"OpportunitiesService/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "app").Logger()

	// подключаем Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping Postgres")
	}

	// применяем миграции Postgres (таблица и триггер уведомлений)
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations/postgres", "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// подключаем Redis
	rClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	cacheClient := cache.NewRedisClient(rClient, "opportunities")

	// подключаем NATS; состояние соединения передаётся подписчику списка
	nc, err := nats.Connect(cfg.NATSURL, nats.MaxReconnects(-1))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	subscriber := events.NewSubscriber(nc, cfg.NATSSubject)
	subscriber.TrackConnection(nc)
	publisher := events.NewPublisher(nc, cfg.NATSSubject)

	// подключаем MinIO
	store, err := storage.NewMinIOStorage(storage.Options{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create storage")
	}
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.EnsureBucket(initCtx); err != nil {
		log.Fatal().Err(err).Str("bucket", cfg.Bucket).Msg("failed to prepare bucket")
	}
	initCancel()

	repo := repository.NewOpportunityRepository(db)
	srv := service.NewOpportunitiesService(repo, store, cacheClient, publisher).WithCacheTTL(cfg.RedisTTL)

	// синхронизатор публичного списка
	var feed listing.Feed = subscriber
	if cfg.FeedSource == config.FeedPostgres {
		feed = pgnotify.NewFeed(cfg.PostgresDSN())
	}
	// любое уведомление, в том числе о записи в обход сервиса, сбрасывает кэш списка
	feed = listing.Tap(feed, func(e model.ChangeEvent) {
		if err := srv.InvalidateList(context.Background()); err != nil {
			log.Warn().Err(err).Str("type", string(e.Type)).Msg("не удалось сбросить кэш списка")
		}
	})
	resolver := model.ImageResolver{BaseURL: cfg.PublicStorageURL, Bucket: cfg.Bucket, Fallback: cfg.FallbackImage}
	synchronizer := listing.New(repo, feed, resolver, log.Logger.With().Str("component", "listing").Logger())
	if err := synchronizer.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start listing synchronizer")
	}

	// HTTP маршруты
	r := mux.NewRouter()
	r.Use(externalHttp.LoggingMiddleware(log.Logger))
	h := externalHttp.NewHandler(srv, synchronizer, cfg.MaxUploadBytes(), log.Logger)
	h.AddReadinessCheck("postgres", db.PingContext)
	h.AddReadinessCheck("redis", cacheClient.Ping)
	h.AddReadinessCheck("storage", store.HealthCheck)
	h.AddReadinessCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return nats.ErrConnectionClosed
		}
		return nil
	})
	h.RegisterRoutes(r)

	srvHttp := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("feed", cfg.FeedSource).Msg("starting server")
		if err := srvHttp.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// ожидаем сигнал для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	// Stop закрывает живые потоки, поэтому вызывается до Shutdown
	synchronizer.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srvHttp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := rClient.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close Redis client")
	}
	if err := nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
	log.Info().Msg("server exited properly")
}
