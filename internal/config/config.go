// Пакет config читает настройки сервисов из окружения (и необязательного файла .env)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Источники уведомлений для синхронизатора списка
const (
	FeedPostgres = "postgres"
	FeedNATS     = "nats"
)

// Config: настройки cmd/app, cmd/consumer и cmd/admin
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr string
	RedisTTL  time.Duration

	NATSURL     string
	NATSSubject string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	Bucket         string

	PublicStorageURL string
	FallbackImage    string

	FeedSource    string
	HTTPAddr      string
	MaxUploadMB   int64
	LogLevel      zerolog.Level
	ClickhouseDSN string
	BatchSize     int
	ConsumerPort  string
}

// Load загружает .env (если есть) и читает переменные окружения
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// отсутствие файла не ошибка, переменные окружения имеют приоритет
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv читает конфигурацию только из окружения
func FromEnv() (*Config, error) {
	c := &Config{
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           os.Getenv("DB_USER"),
		DBPassword:       os.Getenv("DB_PASSWORD"),
		DBName:           getEnv("DB_NAME", "appdb"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:      getEnv("NATS_SUBJECT", "opportunities.changes"),
		MinIOEndpoint:    getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:   os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:   os.Getenv("MINIO_SECRET_KEY"),
		Bucket:           getEnv("STORAGE_BUCKET", "opportunity-images"),
		PublicStorageURL: os.Getenv("PUBLIC_STORAGE_URL"),
		FallbackImage:    getEnv("FALLBACK_IMAGE", "/pathway/soc.png"),
		FeedSource:       strings.ToLower(getEnv("FEED_SOURCE", FeedPostgres)),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		ClickhouseDSN:    os.Getenv("CLICKHOUSE_DSN"),
		ConsumerPort:     getEnv("CONSUMER_PORT", "8081"),
	}
	var err error
	if c.RedisTTL, err = time.ParseDuration(getEnv("REDIS_TTL", "1m")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_TTL: %w", err)
	}
	if c.MinIOUseSSL, err = strconv.ParseBool(getEnv("MINIO_USE_SSL", "false")); err != nil {
		return nil, fmt.Errorf("invalid MINIO_USE_SSL: %w", err)
	}
	if c.MaxUploadMB, err = strconv.ParseInt(getEnv("MAX_UPLOAD_MB", "10"), 10, 64); err != nil || c.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %q", os.Getenv("MAX_UPLOAD_MB"))
	}
	if c.BatchSize, err = strconv.Atoi(getEnv("BATCH_SIZE", "10")); err != nil || c.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid BATCH_SIZE: %q", os.Getenv("BATCH_SIZE"))
	}
	if c.LogLevel, err = zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.FeedSource != FeedPostgres && c.FeedSource != FeedNATS {
		return nil, fmt.Errorf("invalid FEED_SOURCE %q: expected %s or %s", c.FeedSource, FeedPostgres, FeedNATS)
	}
	return c, nil
}

// PostgresDSN собирает строку подключения к Postgres
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// MaxUploadBytes: лимит размера multipart-запроса
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
