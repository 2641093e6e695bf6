package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/config"
	"tastechat/backend/internal/encryption"
	"tastechat/backend/internal/storage"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}

	store := storage.NewStorageService(db, nil) // No redis needed for admin CLI
	// Purge and holds never decrypt, so a missing key only means degraded mode here.
	messages := chathub.NewMessageStore(store, encryption.NewEngine(cfg.EncryptionKey, zerolog.Nop()), cfg.Limits, logger)

	a := &app{messages: messages, admin: store, out: os.Stdout}
	if err := a.run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n\n%s\n", err, usage)
			os.Exit(2)
		}
		logger.Fatal().Err(err).Msg("command failed")
	}
}
