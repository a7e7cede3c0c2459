package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Crypto    CryptoConfig
	Identity  IdentityConfig
	Twitter   TwitterConfig
	Push      PushConfig
	Publisher PublisherConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds the Postgres connection string.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds queue broker connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	TLS      bool
}

// CryptoConfig carries the token-vault secret.
type CryptoConfig struct {
	EncryptionKey string
}

// IdentityConfig carries the trust material for verifying bearer tokens.
type IdentityConfig struct {
	JWTSecret string
}

// TwitterConfig holds the OAuth2 application credentials used for the
// refresh-token grant. Per-user access tokens live in the database.
type TwitterConfig struct {
	ClientID     string
	ClientSecret string
}

// PushConfig holds push-provider credentials and endpoint.
type PushConfig struct {
	ServerKey string
	Endpoint  string
}

// PublisherConfig gathers retry/backoff policy knobs in one place.
type PublisherConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MinRetryDelay  time.Duration
	Workers        int
	PollInterval   time.Duration
}

const (
	defaultPort            = "3000"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultLogFormat = "json"

	defaultRedisAddr = "localhost:6379"

	defaultPushEndpoint = "https://fcm.googleapis.com/fcm/send"

	defaultMaxAttempts    = 5
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
	defaultMinRetryDelay  = 5 * time.Second
	defaultWorkers        = 4
	defaultPollInterval   = time.Second
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided. The encryption key is mandatory: token ciphertexts
// are unrecoverable without it, so starting without one is refused.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", defaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Crypto: CryptoConfig{
			EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		},
		Identity: IdentityConfig{
			JWTSecret: os.Getenv("IDENTITY_JWT_SECRET"),
		},
		Twitter: TwitterConfig{
			ClientID:     os.Getenv("TWITTER_CLIENT_ID"),
			ClientSecret: os.Getenv("TWITTER_CLIENT_SECRET"),
		},
		Push: PushConfig{
			ServerKey: os.Getenv("PUSH_SERVER_KEY"),
			Endpoint:  getEnv("PUSH_ENDPOINT", defaultPushEndpoint),
		},
		Publisher: PublisherConfig{
			MaxAttempts:    defaultMaxAttempts,
			InitialBackoff: defaultInitialBackoff,
			MaxBackoff:     defaultMaxBackoff,
			MinRetryDelay:  defaultMinRetryDelay,
			Workers:        defaultWorkers,
			PollInterval:   defaultPollInterval,
		},
	}

	if cfg.Crypto.EncryptionKey == "" {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY is required")
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Identity.JWTSecret == "" {
		return Config{}, fmt.Errorf("IDENTITY_JWT_SECRET is required")
	}

	if v := os.Getenv("REDIS_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_TLS: must be a boolean")
		}
		cfg.Redis.TLS = b
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("PUBLISH_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid PUBLISH_MAX_ATTEMPTS: must be a positive integer")
		}
		cfg.Publisher.MaxAttempts = n
	}

	if v := os.Getenv("PUBLISH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid PUBLISH_WORKERS: must be a positive integer")
		}
		cfg.Publisher.Workers = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
