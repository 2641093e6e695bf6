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

	"tastechat/backend/internal/api/handler"
	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/complaint"
	"tastechat/backend/internal/config"
	"tastechat/backend/internal/encryption"
	"tastechat/backend/internal/localization"
	"tastechat/backend/internal/ratelimit"
	"tastechat/backend/internal/realtime"
	"tastechat/backend/internal/scheduler"
	"tastechat/backend/internal/storage"
	"tastechat/backend/internal/taste"
	"tastechat/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsProduction() {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

// setupStorage opens PostgreSQL and Redis when configured. Without a
// database URL the in-memory store is used.
func setupStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Storage, *redis.Client, error) {
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect Redis: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
	}

	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory storage")
		return storage.NewMemory(), rdb, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect PostgreSQL: %w", err)
	}

	s := storage.NewStorageService(db, rdb)
	if err := s.AutoMigrate(); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info().Msg("database connected, migrations complete")
	return s, rdb, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("env", cfg.Env).Msg("starting TasteChat backend")

	store, rdb, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 1. Rate limiting and encryption
	var counters ratelimit.Store = ratelimit.NewMemoryStore()
	if rdb != nil {
		counters = ratelimit.NewRedisStore(rdb)
	}
	limiter := ratelimit.NewLimiter(counters, ratelimit.RulesFromConfig(cfg.Limits), logger)
	engine := encryption.NewEngine(cfg.EncryptionKey, logger)
	messages := chathub.NewMessageStore(store, engine, cfg.Limits, logger)

	// 2. Delivery: local hub, Redis fan-out across instances, Telegram
	hub := realtime.NewHub(logger)
	var web chathub.Notifier = hub
	if rdb != nil {
		relay := realtime.NewRedisRelay(rdb, hub, logger)
		web = relay
		go func() {
			if err := relay.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}
	notifiers := chathub.MultiNotifier{web}

	localizer := localization.Bundled()
	localizer.SetFallback(cfg.DefaultLanguage)

	var bot *telegram.BotSender
	if cfg.TelegramBotToken != "" {
		bot, err = telegram.Connect(cfg.TelegramBotToken, logger)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, telegram.NewNotifier(bot, store, localizer, cfg.DefaultLanguage, logger))
	} else {
		logger.Info().Msg("TELEGRAM_BOT_TOKEN not set, telegram front-end disabled")
	}

	// 3. Chat core
	registry := chathub.NewRegistry(store, messages, limiter, notifiers, cfg.Session, logger)
	if _, err := registry.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover rooms: %w", err)
	}
	matcher := chathub.NewMatcherService(registry, taste.NewInterestScorer(store), store, notifiers, cfg.Matching, logger)
	if err := matcher.ResetMirror(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to reset search queue mirror")
	}
	complaints := complaint.NewService(registry, messages, store, logger)

	// 4. Background jobs
	jobs := scheduler.New(registry, matcher, limiter, messages, cfg.Retention, logger)
	if err := jobs.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		jobs.Stop(stopCtx)
	}()

	if bot != nil {
		tg := telegram.NewBotService(bot, telegram.Services{
			Users:           store,
			Matcher:         matcher,
			Rooms:           registry,
			Complaints:      complaints,
			Localizer:       localizer,
			DefaultLanguage: cfg.DefaultLanguage,
		}, logger)
		go tg.Run(ctx, bot.Updates())
		defer bot.StopUpdates()
	}

	// 5. HTTP
	secret := cfg.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn().Msg("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(handler.Deps{
		Matcher:     matcher,
		Rooms:       registry,
		Messages:    messages,
		Complaints:  complaints,
		Hub:         hub,
		Auth:        handler.NewAuthenticator(secret, store),
		Limiter:     limiter,
		Connections: ratelimit.NewConnectionTracker(cfg.Limits.MaxConnectionsPerUser),
	}, logger)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        h.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
