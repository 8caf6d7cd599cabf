// reconcile.go — фоновая сверка журнала намерений (WAL) с БД и диском.
//
// Для каждой pending-записи старше grace:
//   - blob на диске есть → commit (строка вставлена раньше blob-а)
//   - blob нет, строка есть → orphaned, запись остаётся для ручного разбора
//   - нет ни строки, ни blob-а → rollback
//
// Завершённые записи (committed, rolled_back) удаляются.
// Запускается как горутина с периодическим тикером (FS_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/files-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/files-storage/internal/repository"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/filestore"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/wal"
)

// Prometheus метрики сверки
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_reconcile_runs_total",
		Help: "Общее количество запусков сверки WAL",
	})

	// reconcileResolvedTotal — разобранные pending-записи по исходу.
	reconcileResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_reconcile_resolved_total",
		Help: "Количество pending-записей WAL, разобранных сверкой",
	}, []string{"outcome"})

	// reconcileDurationSeconds — длительность сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки WAL в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	// Checked — количество просмотренных pending-записей
	Checked int
	// Committed — blob найден, запись подтверждена
	Committed int
	// Orphaned — строка без blob-а
	Orphaned int
	// RolledBack — нет ни строки, ни blob-а
	RolledBack int
	// Skipped — записи моложе grace
	Skipped int
	// Cleaned — удалённые завершённые записи
	Cleaned int
	// Errors — ошибки при разборе
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// ReconcileService — фоновая сверка WAL.
type ReconcileService struct {
	journal  *wal.WAL
	repo     repository.FileRepository
	store    *filestore.FileStore
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	journal *wal.WAL,
	repo repository.FileRepository,
	store *filestore.FileStore,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		journal:  journal,
		repo:     repo,
		store:    store,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка WAL запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("grace", rs.grace.String()),
	)
}

// Stop останавливает фоновую сверку и дожидается текущего запуска.
func (rs *ReconcileService) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.logger.Info("Сверка WAL остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx, rs.grace)
		}
	}
}

// RunOnce выполняет один цикл сверки для записей старше grace.
// При старте процесса вызывается с grace = 0: незавершённых загрузок
// ещё нет. Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context, grace time.Duration) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	start := time.Now()
	result := &ReconcileResult{}

	pending, err := rs.journal.RecoverPending()
	if err != nil {
		rs.logger.Error("Ошибка чтения pending-записей WAL", slog.String("error", err.Error()))
		result.Errors++
	}

	now := time.Now().UTC()
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}
		result.Checked++
		if entry.Age(now) < grace {
			result.Skipped++
			continue
		}
		rs.resolve(ctx, entry, result)
	}

	cleaned, err := rs.journal.CleanCommitted()
	if err != nil {
		rs.logger.Error("Ошибка очистки WAL", slog.String("error", err.Error()))
		result.Errors++
	}
	result.Cleaned = cleaned
	result.Duration = time.Since(start)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(result.Duration.Seconds())

	rs.logger.Info("Сверка WAL завершена",
		slog.Int("checked", result.Checked),
		slog.Int("committed", result.Committed),
		slog.Int("orphaned", result.Orphaned),
		slog.Int("rolled_back", result.RolledBack),
		slog.Int("skipped", result.Skipped),
		slog.Int("cleaned", result.Cleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, false
}

// resolve переводит одну pending-запись в конечный статус.
func (rs *ReconcileService) resolve(ctx context.Context, entry *wal.Entry, result *ReconcileResult) {
	log := rs.logger.With(
		slog.String("tx_id", entry.TransactionID),
		slog.String("file_id", entry.FileID),
		slog.String("storage_path", entry.StoragePath),
	)

	// Загрузка могла завершиться после чтения списка pending-записей
	current, err := rs.journal.GetTransaction(entry.TransactionID)
	if err != nil {
		log.Warn("Не удалось перечитать запись WAL", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	if current.Status != wal.StatusPending {
		result.Skipped++
		return
	}

	if rs.store.Exists(entry.StoragePath) {
		if err := rs.journal.Commit(entry.TransactionID); err != nil {
			log.Error("Ошибка коммита WAL при сверке", slog.String("error", err.Error()))
			result.Errors++
			return
		}
		reconcileResolvedTotal.WithLabelValues("committed").Inc()
		result.Committed++
		return
	}

	exists, err := rs.repo.Exists(ctx, entry.FileID)
	if err != nil {
		log.Warn("Не удалось проверить строку в БД, запись остаётся pending",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return
	}

	if exists {
		if err := rs.journal.MarkOrphaned(entry.TransactionID, "blob отсутствует на диске"); err != nil {
			log.Error("Ошибка перевода WAL в orphaned", slog.String("error", err.Error()))
			result.Errors++
			return
		}
		reconcileResolvedTotal.WithLabelValues("orphaned").Inc()
		result.Orphaned++
		log.Warn("Строка в БД без файла, требуется ручная сверка")
		return
	}

	if err := rs.journal.Rollback(entry.TransactionID, "строка в БД не сохранена"); err != nil {
		log.Error("Ошибка отката WAL при сверке", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	reconcileResolvedTotal.WithLabelValues("rolled_back").Inc()
	result.RolledBack++
}

// OrphanedFile — строка без blob-а: запись WAL и строка БД.
// Record равен nil, если строку удалили при ручном разборе.
type OrphanedFile struct {
	Entry  *wal.Entry
	Record *model.FileRecord
}

// Orphans возвращает строки без blob-ов. Ошибка чтения строки из БД
// не прерывает список: такая запись возвращается без Record.
func (rs *ReconcileService) Orphans(ctx context.Context) ([]OrphanedFile, error) {
	entries, err := rs.journal.ListOrphaned()
	if err != nil {
		return nil, err
	}

	files := make([]OrphanedFile, 0, len(entries))
	for _, entry := range entries {
		rec, err := rs.repo.GetByID(ctx, entry.FileID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				rs.logger.Warn("Не удалось прочитать строку orphaned-файла",
					slog.String("file_id", entry.FileID),
					slog.String("error", err.Error()),
				)
			}
			rec = nil
		}
		files = append(files, OrphanedFile{Entry: entry, Record: rec})
	}
	return files, nil
}
