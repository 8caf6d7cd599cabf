package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/files-storage/internal/domain/model"
)

// FileRepository — операции с таблицей files.
type FileRepository interface {
	// Insert сохраняет запись и подтверждает её возвращённым uuid.
	Insert(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает запись по uuid.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// Exists проверяет наличие записи по uuid.
	Exists(ctx context.Context, id string) (bool, error)
}

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Insert(ctx context.Context, f *model.FileRecord) error {
	query, args := buildInsert(f)

	var id string
	if err := r.db.QueryRow(ctx, query, args...).Scan(&id, &f.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %s уже зарегистрирован", ErrConflict, f.UUID)
		}
		return fmt.Errorf("ошибка сохранения файла: %w", err)
	}
	if id != f.UUID {
		return fmt.Errorf("ошибка сохранения файла: возвращён uuid %s вместо %s", id, f.UUID)
	}
	return nil
}

// buildInsert формирует INSERT. Столбец bucket не передаётся, если
// бакет пуст: в таблице остаётся NULL, а не пустая строка.
func buildInsert(f *model.FileRecord) (string, []any) {
	cols := []string{"uuid", "url", "file_name", "file_mimetype", "file_ext", "file_size"}
	args := []any{f.UUID, f.URL, f.FileName, f.MimeType, f.Extension, f.Size}
	if f.Bucket != "" {
		cols = append(cols, "bucket")
		args = append(args, f.Bucket)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	query := "INSERT INTO files (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ") RETURNING uuid::text, created_at"
	return query, args
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `
		SELECT uuid::text, COALESCE(bucket, ''), url, file_name, file_mimetype,
			file_ext, file_size, created_at
		FROM files
		WHERE uuid = $1`

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&f.UUID, &f.Bucket, &f.URL, &f.FileName, &f.MimeType,
		&f.Extension, &f.Size, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM files WHERE uuid = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки файла: %w", err)
	}
	return exists, nil
}
