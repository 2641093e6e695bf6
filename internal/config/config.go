// Package config loads the runtime configuration from the environment.
// A .env file in the working directory is honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string

	TelegramBotToken string
	DefaultLanguage  string

	// EncryptionKey is the base64 encoded 32-byte message key. Empty or
	// invalid keys put the message store into degraded mode.
	EncryptionKey string

	Limits    Limits
	Session   Session
	Matching  Matching
	Retention Retention
}

// Limits groups the throttling and message size bounds.
type Limits struct {
	MessagesPerMinute     int
	MessagesPerHour       int
	ConnectionsPerMinute  int
	MaxConnectionsPerUser int
	MaxMessageLength      int
	MaxMessageSize        int
}

// Session groups the chat room idle policy.
type Session struct {
	MaxIdle       time.Duration
	AutoClose     time.Duration
	WarningRepeat time.Duration
}

// Matching groups the pairing policy.
type Matching struct {
	MinScore    float64
	WaitTimeout time.Duration
}

// Retention groups the message history purge policy.
type Retention struct {
	Months int
	// PurgeHour and PurgeMinute are the local time-of-day of the daily purge.
	PurgeHour   int
	PurgeMinute int
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Port:            "8080",
		Env:             "development",
		DefaultLanguage: "en",
		Limits: Limits{
			MessagesPerMinute:     DefaultMessagesPerMinute,
			MessagesPerHour:       DefaultMessagesPerHour,
			ConnectionsPerMinute:  DefaultConnectionsPerMinute,
			MaxConnectionsPerUser: DefaultMaxConnectionsPerUser,
			MaxMessageLength:      DefaultMaxMessageLength,
			MaxMessageSize:        DefaultMaxMessageSize,
		},
		Session: Session{
			MaxIdle:       DefaultMaxIdleMinutes * time.Minute,
			AutoClose:     DefaultAutoCloseMinutes * time.Minute,
			WarningRepeat: DefaultWarningRepeatMinutes * time.Minute,
		},
		Matching: Matching{
			MinScore:    DefaultMatchMinScore,
			WaitTimeout: DefaultMatchWaitTimeoutMinutes * time.Minute,
		},
		Retention: Retention{
			Months:      DefaultRetentionMonths,
			PurgeHour:   3,
			PurgeMinute: 0,
		},
	}
}

// Load reads configuration from environment variables on top of Default.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.DefaultLanguage = getEnv("DEFAULT_LANGUAGE", cfg.DefaultLanguage)
	cfg.EncryptionKey = os.Getenv("MESSAGE_ENCRYPTION_KEY")

	var err error
	l := &cfg.Limits
	if l.MessagesPerMinute, err = getEnvInt("RATE_MESSAGES_PER_MINUTE", l.MessagesPerMinute); err != nil {
		return nil, err
	}
	if l.MessagesPerHour, err = getEnvInt("RATE_MESSAGES_PER_HOUR", l.MessagesPerHour); err != nil {
		return nil, err
	}
	if l.ConnectionsPerMinute, err = getEnvInt("RATE_CONNECTIONS_PER_MINUTE", l.ConnectionsPerMinute); err != nil {
		return nil, err
	}
	if l.MaxConnectionsPerUser, err = getEnvInt("MAX_CONNECTIONS_PER_USER", l.MaxConnectionsPerUser); err != nil {
		return nil, err
	}
	if l.MaxMessageLength, err = getEnvInt("MAX_MESSAGE_LENGTH", l.MaxMessageLength); err != nil {
		return nil, err
	}
	if l.MaxMessageSize, err = getEnvInt("MAX_MESSAGE_SIZE", l.MaxMessageSize); err != nil {
		return nil, err
	}

	s := &cfg.Session
	if s.MaxIdle, err = getEnvMinutes("SESSION_MAX_IDLE_MINUTES", s.MaxIdle); err != nil {
		return nil, err
	}
	if s.AutoClose, err = getEnvMinutes("SESSION_AUTO_CLOSE_MINUTES", s.AutoClose); err != nil {
		return nil, err
	}
	if s.WarningRepeat, err = getEnvMinutes("IDLE_WARNING_REPEAT_MINUTES", s.WarningRepeat); err != nil {
		return nil, err
	}

	if v := os.Getenv("MATCH_MIN_SCORE"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MATCH_MIN_SCORE: %w", err)
		}
		cfg.Matching.MinScore = score
	}
	if cfg.Matching.WaitTimeout, err = getEnvMinutes("MATCH_WAIT_TIMEOUT_MINUTES", cfg.Matching.WaitTimeout); err != nil {
		return nil, err
	}

	if cfg.Retention.Months, err = getEnvInt("RETENTION_MONTHS", cfg.Retention.Months); err != nil {
		return nil, err
	}
	purgeAt := getEnv("RETENTION_PURGE_TIME", DefaultRetentionPurgeAt)
	if cfg.Retention.PurgeHour, cfg.Retention.PurgeMinute, err = parseTimeOfDay(purgeAt); err != nil {
		return nil, fmt.Errorf("RETENTION_PURGE_TIME: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	l := c.Limits
	if l.MessagesPerMinute <= 0 || l.MessagesPerHour <= 0 || l.ConnectionsPerMinute <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if l.MaxConnectionsPerUser <= 0 {
		return fmt.Errorf("max connections per user must be positive")
	}
	if l.MaxMessageLength <= 0 || l.MaxMessageSize <= 0 {
		return fmt.Errorf("message bounds must be positive")
	}
	if c.Session.MaxIdle <= 0 {
		return fmt.Errorf("session max idle must be positive")
	}
	if c.Session.AutoClose <= c.Session.MaxIdle {
		return fmt.Errorf("session auto close (%s) must be longer than max idle (%s)", c.Session.AutoClose, c.Session.MaxIdle)
	}
	if c.Session.WarningRepeat <= 0 {
		return fmt.Errorf("idle warning repeat must be positive")
	}
	if c.Matching.MinScore < 0 || c.Matching.MinScore > 1 {
		return fmt.Errorf("match min score must be within [0,1]")
	}
	if c.Matching.WaitTimeout <= 0 {
		return fmt.Errorf("match wait timeout must be positive")
	}
	if c.Retention.Months <= 0 {
		return fmt.Errorf("retention months must be positive")
	}
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvMinutes(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(n) * time.Minute, nil
}

// parseTimeOfDay parses "HH:MM" in 24h format.
func parseTimeOfDay(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}
