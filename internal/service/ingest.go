// Пакет service — бизнес-логика Files Storage.
// ingest.go — сохранение проверенной загрузки: строка в БД, затем blob.
package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/goartstore/files-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/files-storage/internal/database"
	"github.com/bigkaa/goartstore/files-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/files-storage/internal/repository"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/bucket"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/filestore"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/wal"
)

// Prometheus метрики загрузки
var (
	// uploadsTotal — количество сохранений по результату.
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_uploads_total",
		Help: "Общее количество сохранений файлов по результату",
	}, []string{"result"})

	// uploadBytesTotal — объём сохранённых данных.
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_upload_bytes_total",
		Help: "Общий объём сохранённых файлов в байтах",
	})

	// orphanedRowsTotal — строки в БД, для которых не удалось записать blob.
	orphanedRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_orphaned_rows_total",
		Help: "Количество строк files без сохранённого blob-а",
	})
)

// Результаты сохранения для метрики fs_uploads_total.
const (
	resultSuccess      = "success"
	resultDBError      = "db_error"
	resultStorageError = "storage_error"
	resultWALError     = "wal_error"
)

// IngestService — сохранение загрузок (строка → директория бакета → blob).
type IngestService struct {
	repo    repository.FileRepository
	buckets *bucket.Manager
	store   *filestore.FileStore
	journal *wal.WAL
	logger  *slog.Logger
}

// NewIngestService создаёт сервис сохранения загрузок.
func NewIngestService(
	repo repository.FileRepository,
	buckets *bucket.Manager,
	store *filestore.FileStore,
	journal *wal.WAL,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		repo:    repo,
		buckets: buckets,
		store:   store,
		journal: journal,
		logger:  logger.With(slog.String("component", "ingest_service")),
	}
}

// Store сохраняет проверенную загрузку.
//
// Поток:
//  1. UUID v4 и публичный путь
//  2. WAL StartTransaction (pending)
//  3. INSERT строки; ошибка → UPSTREAM, на диск ничего не пишется
//  4. Директория бакета
//  5. Запись blob-а
//  6. WAL Commit
//
// Ошибка на шагах 4–5 оставляет строку без blob-а. Компенсирующего
// удаления нет: запись WAL остаётся pending и разбирается сверкой.
func (s *IngestService) Store(ctx context.Context, desc *model.UploadDescriptor) (*model.FileRecord, *apierrors.Error) {
	// 1. Идентификатор и путь
	rec := model.NewFileRecord(desc)
	storagePath := rec.StoragePath()

	log := s.logger.With(
		slog.String("file_id", rec.UUID),
		slog.String("bucket", rec.Bucket),
	)

	// 2. Журнал намерений
	entry, err := s.journal.StartTransaction(wal.OpFileCreate, rec.UUID, storagePath)
	if err != nil {
		uploadsTotal.WithLabelValues(resultWALError).Inc()
		log.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, apierrors.Upstream("Ошибка журнала сохранения")
	}
	log = log.With(slog.String("tx_id", entry.TransactionID))

	// 3. Строка в БД
	if err := s.repo.Insert(ctx, rec); err != nil {
		uploadsTotal.WithLabelValues(resultDBError).Inc()
		log.Error("Ошибка сохранения записи в БД", slog.String("error", err.Error()))

		// Исход INSERT неизвестен: запись остаётся pending до сверки.
		// Иначе строки точно нет.
		if !insertOutcomeUnknown(err) {
			s.rollback(log, entry.TransactionID, err.Error())
		}
		return nil, apierrors.Upstream("Ошибка сохранения записи о файле")
	}

	// 4. Директория бакета
	if _, err := s.buckets.Ensure(rec.Bucket); err != nil {
		s.orphaned(log, "Ошибка создания директории бакета", err)
		return nil, apierrors.Upstream("Ошибка сохранения файла")
	}

	// 5. Blob
	saved, err := s.store.Write(storagePath, bytes.NewReader(desc.Bytes))
	if err != nil {
		// директорию могли удалить извне, при следующей загрузке создадим заново
		s.buckets.Forget(rec.Bucket)
		s.orphaned(log, "Ошибка записи файла на диск", err)
		return nil, apierrors.Upstream("Ошибка сохранения файла")
	}

	// 6. WAL Commit
	if err := s.journal.Commit(entry.TransactionID); err != nil {
		// Данные уже записаны, коммит WAL — best effort
		log.Error("Ошибка коммита WAL (данные сохранены)", slog.String("error", err.Error()))
	}

	uploadsTotal.WithLabelValues(resultSuccess).Inc()
	uploadBytesTotal.Add(float64(saved.Size))

	log.Info("Файл сохранён",
		slog.String("url", rec.URL),
		slog.String("filename", rec.FileName),
		slog.String("mimetype", rec.MimeType),
		slog.Int64("size", saved.Size),
		slog.String("checksum", saved.Checksum),
	)
	return rec, nil
}

// insertOutcomeUnknown — ошибка, после которой строка могла быть записана:
// обрыв соединения, отмена или таймаут запроса.
func insertOutcomeUnknown(err error) bool {
	return errors.Is(err, database.ErrUpstream) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *IngestService) rollback(log *slog.Logger, txID, reason string) {
	if err := s.journal.Rollback(txID, reason); err != nil {
		log.Error("Ошибка отката WAL", slog.String("error", err.Error()))
	}
}

// orphaned фиксирует строку без blob-а. Запись WAL не трогается.
func (s *IngestService) orphaned(log *slog.Logger, msg string, err error) {
	uploadsTotal.WithLabelValues(resultStorageError).Inc()
	orphanedRowsTotal.Inc()
	log.Error(msg+": строка в БД осталась без файла", slog.String("error", err.Error()))
}
