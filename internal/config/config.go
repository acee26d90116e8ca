package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort           string
	HTTPRequestTimeout time.Duration
	CORSAllowedOrigins []string

	DBConfig struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
	}
	MigrationsEnabled bool

	KafkaBrokerURL        string
	KafkaDraftEventsTopic string
	KafkaFeedGroupPrefix  string

	OutboxPollInterval time.Duration
	OutboxPollTimeout  time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	OCRURL      string
	OCRLanguage string
	OCRTimeout  time.Duration

	MaxImageBytes  int64
	ImageRetention time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SubmitGuardTTL time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	AdminEmail        string
	AdminPasswordHash string
}

// LoadConfig reads the process environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	cfg.HTTPPort = getEnvOrDefault("HTTP_PORT", "8080")
	cfg.HTTPRequestTimeout = getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second)
	cfg.CORSAllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	cfg.DBConfig.Host = getEnvOrDefault("PAYMENTS_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("PAYMENTS_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("PAYMENTS_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("PAYMENTS_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("PAYMENTS_DB_NAME", "hostelpay_db")
	cfg.MigrationsEnabled = getEnvAsBool("MIGRATIONS_ENABLED", true)

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaDraftEventsTopic = getEnvOrDefault("KAFKA_DRAFT_EVENTS_TOPIC", "payment_draft_events")
	cfg.KafkaFeedGroupPrefix = getEnvOrDefault("KAFKA_FEED_GROUP_PREFIX", "hostelpay-feed-")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 5*time.Second)
	cfg.OutboxBatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxAttempts = getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10)

	cfg.OCRURL = getEnvOrDefault("OCR_URL", "")
	cfg.OCRLanguage = getEnvOrDefault("OCR_LANGUAGE", "eng")
	cfg.OCRTimeout = getEnvAsDuration("OCR_TIMEOUT", 30*time.Second)

	cfg.MaxImageBytes = int64(getEnvAsInt("MAX_IMAGE_BYTES", 5<<20))
	cfg.ImageRetention = getEnvAsDuration("IMAGE_RETENTION", 2*time.Second)

	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	cfg.SubmitGuardTTL = getEnvAsDuration("SUBMIT_GUARD_TTL", 30*time.Second)

	cfg.JWTSecret = getEnvOrDefault("JWT_SECRET", "")
	cfg.JWTTTL = getEnvAsDuration("JWT_TTL", 12*time.Hour)

	cfg.AdminEmail = getEnvOrDefault("ADMIN_EMAIL", "")
	cfg.AdminPasswordHash = getEnvOrDefault("ADMIN_PASSWORD_HASH", "")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive, got %d", c.MaxImageBytes)
	}
	if c.OCRURL != "" && c.HTTPRequestTimeout <= c.OCRTimeout {
		return fmt.Errorf("HTTP_REQUEST_TIMEOUT (%s) must exceed OCR_TIMEOUT (%s)", c.HTTPRequestTimeout, c.OCRTimeout)
	}
	if (c.AdminEmail == "") != (c.AdminPasswordHash == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD_HASH must be set together")
	}
	return nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
