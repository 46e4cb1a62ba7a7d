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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"storeledger/backend/internal/cache"
	"storeledger/backend/internal/config"
	"storeledger/backend/internal/events"
	"storeledger/backend/internal/httpapi"
	"storeledger/backend/internal/obs"
	"storeledger/backend/internal/service"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/store/memory"
	pgstore "storeledger/backend/internal/store/postgres"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	obs.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres schema migration failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		log.Info().Str("repository", "memory").Msg("repository ready")
	}

	replay := cache.ReplayCache(cache.NewMemoryReplayCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReplayCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process replay cache")
			_ = redisCache.Close()
		} else {
			replay = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("replay_cache", "redis").Msg("replay cache ready")
		}
	} else {
		log.Info().Str("replay_cache", "memory").Msg("replay cache ready")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("event publisher: kafka")
	} else {
		log.Info().Msg("event publisher: noop")
	}

	svc := service.New(repo, replay, publisher, service.Config{
		LowStockThreshold: cfg.LowStockThreshold,
		ReplayTTL:         time.Duration(cfg.IdempotencyTTLSeconds) * time.Second,
		Location:          cfg.Location(),
		MaxAttempts:       cfg.LedgerMaxAttempts,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("store ledger backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.ReportTimezone != "" {
		if _, err := time.LoadLocation(cfg.ReportTimezone); err != nil {
			return fmt.Errorf("REPORT_TIMEZONE %q is not a known zone: %w", cfg.ReportTimezone, err)
		}
	}
	return nil
}
