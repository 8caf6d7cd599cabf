// Пакет database — подключение к PostgreSQL через pgxpool с супервизором
// пула, применение миграций (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/files-storage/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open создаёт менеджер пула подключений к PostgreSQL и выполняет
// стартовую проверку. Ошибка проверки означает, что сервис не должен
// запускаться.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnLifetime = cfg.DBMaxConnLifetime

	m := newManager(poolCfg, Settings{
		AcquireTimeout:    cfg.DBAcquireTimeout,
		ReconnectInterval: cfg.DBReconnectInterval,
		HealthInterval:    cfg.DBHealthInterval,
	}, newPgxPool, logger)

	if err := m.connect(ctx); err != nil {
		return nil, err
	}

	logger.Info("Пул PostgreSQL готов",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(cfg.DBMaxConns)),
	)

	return m, nil
}

// Migrate применяет SQL-миграции из embedded FS к базе данных.
// Использует golang-migrate с драйвером pgx5.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint.
type ReadinessChecker struct {
	m *Manager
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(m *Manager) *ReadinessChecker {
	return &ReadinessChecker{m: m}
}

// CheckReady возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	if c.m.Reconnecting() {
		return "fail", "пул PostgreSQL пересоздаётся"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if !c.m.HealthCheck(ctx) {
		return "fail", "PostgreSQL недоступен"
	}
	return "ok", "подключение активно"
}
