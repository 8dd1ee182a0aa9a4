package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the SDK daemon and CLI configuration loaded from the
// environment. One struct serves both binaries; fields a binary does not
// need stay at their defaults.
type Config struct {
	AppName  string
	LogLevel string
	HTTPPort string

	// Provider identity.
	ApplicationCode string
	APIEntrypoint   string
	APITimeout      time.Duration
	DeviceModel     string
	Language        string
	UserID          string

	// Push event source (worker only).
	RabbitURL       string
	PushQueue       string
	DeadLetterQueue string
	PrefetchCount   int
	WorkerCount     int
	MaxDeliveries   int

	// Shared KV store: Redis when set, a local directory otherwise.
	RedisURL   string
	StorageDir string

	// Inbox persistence; the inbox is disabled when unset.
	DatabaseURL string
	InboxTable  string

	// Driver.
	FCMEndpoint      string
	SafariSigningKey string
	CanOpenWindow    bool

	// Startup connectivity retry.
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:  getEnv("APP_NAME", "web-push-sdk"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnv("HTTP_PORT", "8082"),

		ApplicationCode: getEnv("APPLICATION_CODE", ""),
		APIEntrypoint:   getEnv("API_ENTRYPOINT", ""),
		APITimeout:      getEnvAsDuration("API_TIMEOUT", 10*time.Second),
		DeviceModel:     getEnv("DEVICE_MODEL", "chrome"),
		Language:        getEnv("LANGUAGE", "en"),
		UserID:          getEnv("USER_ID", ""),

		RabbitURL:       getEnv("RABBITMQ_URL", ""),
		PushQueue:       getEnv("PUSH_QUEUE", "push.queue"),
		DeadLetterQueue: getEnv("PUSH_DLQ", "failed.queue"),
		PrefetchCount:   getEnvAsInt("PUSH_PREFETCH", 100),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 5),
		MaxDeliveries:   getEnvAsInt("MAX_DELIVERIES", 5),

		RedisURL:   getEnv("REDIS_URL", ""),
		StorageDir: getEnv("STORAGE_DIR", "./data"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		InboxTable:  getEnv("INBOX_TABLE", "inbox_messages"),

		FCMEndpoint:      getEnv("FCM_ENDPOINT", ""),
		SafariSigningKey: getEnv("SAFARI_SIGNING_KEY", ""),
		CanOpenWindow:    getEnvAsBool("CAN_OPEN_WINDOW", true),

		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 4),
		RetryInitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", time.Second),
		RetryMaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 15*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.ApplicationCode == "" {
		missing = append(missing, "APPLICATION_CODE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid bool for %s, using default %t: %v", key, def, err)
			return def
		}
		return b
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}
