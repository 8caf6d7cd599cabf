// Точка входа Files Storage — сервиса приёма и хранения файлов.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/files-storage/internal/api/handlers"
	"github.com/bigkaa/goartstore/files-storage/internal/config"
	"github.com/bigkaa/goartstore/files-storage/internal/database"
	"github.com/bigkaa/goartstore/files-storage/internal/repository"
	"github.com/bigkaa/goartstore/files-storage/internal/server"
	"github.com/bigkaa/goartstore/files-storage/internal/service"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/bucket"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/filestore"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/wal"
	"github.com/bigkaa/goartstore/files-storage/internal/validation"
)

// App — контекст приложения. Создаётся один раз в main, его части
// явно передаются в обработчики и сервисы.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *database.Manager
	checkDB *sql.DB
	repo    repository.FileRepository

	buckets *bucket.Manager
	store   *filestore.FileStore
	journal *wal.WAL

	validator  *validation.Validator
	ingest     *service.IngestService
	reconciler *service.ReconcileService
	dephealth  *service.DephealthService
}

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Files Storage запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("buckets_dir", cfg.BucketsDir),
	)

	ctx := context.Background()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка запуска", slog.String("error", err.Error()))
		os.Exit(1)
	}

	app.startBackground(ctx)

	srv := server.New(cfg, logger, app.handlers())
	runErr := srv.Run()

	app.shutdown()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Files Storage остановлен")
}

// newApp инициализирует компоненты в порядке зависимостей.
// Недоступная при старте БД — фатальная ошибка.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	// 1. Корень хранилища и кэш директорий бакетов
	var err error
	app.buckets, err = bucket.New(cfg.BucketsDir, cfg.BucketCacheSize, cfg.BucketCacheTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("инициализация бакетов: %w", err)
	}
	app.store, err = filestore.New(cfg.BucketsDir)
	if err != nil {
		return nil, fmt.Errorf("инициализация FileStore: %w", err)
	}

	// 2. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return nil, fmt.Errorf("миграции БД: %w", err)
	}

	// 3. Пул PostgreSQL со стартовой проверкой
	app.db, err = database.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("подключение к PostgreSQL: %w", err)
	}
	app.repo = repository.NewFileRepository(app.db)

	// 4. WAL
	app.journal, err = wal.New(cfg.WALDir, logger)
	if err != nil {
		app.db.Stop()
		return nil, fmt.Errorf("инициализация WAL: %w", err)
	}

	// 5. Сервисы
	app.validator = validation.New(cfg.APIKey, validation.DefaultLimits(cfg.MaxFileSize))
	app.ingest = service.NewIngestService(app.repo, app.buckets, app.store, app.journal, logger)
	app.reconciler = service.NewReconcileService(
		app.journal, app.repo, app.store, cfg.ReconcileInterval, cfg.ReconcileGrace, logger)

	// 6. Сверка после перезапуска: незавершённых загрузок ещё нет
	app.reconciler.RunOnce(ctx, 0)

	// 7. topologymetrics — отдельное *sql.DB, пул pgx может пересоздаваться
	app.checkDB = stdlib.OpenDB(*app.db.ConnConfig())
	app.checkDB.SetMaxOpenConns(1)
	app.dephealth, err = service.NewDephealthService(
		"files-storage",
		cfg.DephealthGroup,
		app.checkDB,
		cfg.DatabaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		app.dephealth = nil
	}

	return app, nil
}

// startBackground запускает супервизор пула и фоновые процессы.
func (a *App) startBackground(ctx context.Context) {
	a.db.Start(ctx)
	a.reconciler.Start(ctx)

	if a.dephealth == nil {
		return
	}
	if err := a.dephealth.Start(ctx); err != nil {
		a.logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		a.dephealth = nil
		return
	}
	a.logger.Info("topologymetrics запущен",
		slog.String("check_interval", a.cfg.DephealthCheckInterval.String()),
	)
}

// handlers собирает HTTP-обработчики из частей приложения.
func (a *App) handlers() server.Handlers {
	return server.Handlers{
		Upload: handlers.NewUploadHandler(a.validator, a.ingest, a.cfg.MaxFileSize, a.logger),
		Health: handlers.NewHealthHandler(
			database.NewReadinessChecker(a.db),
			handlers.NewDirChecker(a.buckets.Root(), a.journal.Dir()),
		),
		Maintenance: handlers.NewMaintenanceHandler(a.validator, a.reconciler, a.logger),
	}
}

// shutdown останавливает фоновые процессы в обратном порядке.
// Пул PostgreSQL закрывается последним: сверка может ещё обращаться к БД.
func (a *App) shutdown() {
	a.logger.Info("Остановка фоновых процессов...")

	var g errgroup.Group
	if a.dephealth != nil {
		g.Go(func() error {
			a.dephealth.Stop()
			return nil
		})
	}
	g.Go(func() error {
		a.reconciler.Stop()
		return nil
	})
	_ = g.Wait()

	a.db.Stop()
	if a.checkDB != nil {
		a.checkDB.Close()
	}
}
