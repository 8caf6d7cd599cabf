// Пакет config — загрузка и валидация конфигурации Files Storage
// из переменных окружения (и опционального файла .env).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Files Storage.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Общий секрет, которым клиенты подтверждают право на загрузку
	APIKey string

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Ёмкость пула подключений
	DBMaxConns int32
	// Максимальное ожидание свободного подключения из пула
	DBAcquireTimeout time.Duration
	// Максимальное время жизни одного подключения
	DBMaxConnLifetime time.Duration
	// Фиксированная задержка между попытками пересоздать пул
	DBReconnectInterval time.Duration
	// Интервал фоновой проверки пула (обнаружение фатальных ошибок)
	DBHealthInterval time.Duration

	// Корневая директория хранения файлов (бакеты — поддиректории)
	BucketsDir string
	// Директория WAL
	WALDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64

	// Кэш уже созданных директорий бакетов
	BucketCacheSize int
	BucketCacheTTL  time.Duration

	// Интервал фоновой сверки WAL с БД и диском
	ReconcileInterval time.Duration
	// Минимальный возраст pending-записи WAL перед сверкой
	ReconcileGrace time.Duration

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если в рабочей директории есть .env, его значения подставляются
// только для не заданных в окружении переменных.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf(".env: %w", err)
	}

	cfg := &Config{}
	var err error

	// FS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FS_API_KEY — обязательный
	cfg.APIKey, err = getEnvRequired("FS_API_KEY")
	if err != nil {
		return nil, err
	}

	cfg.DBHost = getEnvDefault("FS_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("FS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FS_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("FS_DB_NAME", "files")
	cfg.DBUser = getEnvDefault("FS_DB_USER", "files")
	cfg.DBPassword, err = getEnvRequired("FS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FS_DB_SSL_MODE", "disable")

	maxConns, err := getEnvInt("FS_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("FS_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 {
		return nil, fmt.Errorf("FS_DB_MAX_CONNS: значение должно быть положительным")
	}
	cfg.DBMaxConns = int32(maxConns)

	// FS_DB_ACQUIRE_TIMEOUT — ожидание подключения из пула (по умолчанию 5s)
	cfg.DBAcquireTimeout, err = getEnvPositiveDuration("FS_DB_ACQUIRE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.DBMaxConnLifetime, err = getEnvPositiveDuration("FS_DB_MAX_CONN_LIFETIME", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	// FS_DB_RECONNECT_INTERVAL — задержка повтора пересоздания пула, без backoff
	cfg.DBReconnectInterval, err = getEnvPositiveDuration("FS_DB_RECONNECT_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}

	cfg.DBHealthInterval, err = getEnvPositiveDuration("FS_DB_HEALTH_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.BucketsDir = getEnvDefault("FS_BUCKETS_DIR", "./buckets")
	cfg.WALDir = getEnvDefault("FS_WAL_DIR", "./wal")

	// FS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 200 MiB)
	cfg.MaxFileSize, err = getEnvInt64("FS_MAX_FILE_SIZE", 200*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.BucketCacheSize, err = getEnvInt("FS_BUCKET_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("FS_BUCKET_CACHE_SIZE: %w", err)
	}
	if cfg.BucketCacheSize < 1 {
		return nil, fmt.Errorf("FS_BUCKET_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.BucketCacheTTL, err = getEnvPositiveDuration("FS_BUCKET_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.ReconcileInterval, err = getEnvPositiveDuration("FS_RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.ReconcileGrace, err = getEnvDuration("FS_RECONCILE_GRACE", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FS_RECONCILE_GRACE: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("FS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("FS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DephealthGroup = getEnvDefault("FS_DEPHEALTH_GROUP", "files-storage")

	// FS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FS_LOG_LEVEL: %w", err)
	}

	// FS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.databaseURL("postgres", true)
}

// MigrateURL возвращает URL для golang-migrate (схема pgx5).
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5", true)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return c.databaseURL("postgresql", false)
}

func (c *Config) databaseURL(scheme string, withPassword bool) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	if withPassword {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
// Ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным", key)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
