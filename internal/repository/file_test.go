package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/files-storage/internal/config"
	"github.com/bigkaa/goartstore/files-storage/internal/database"
	"github.com/bigkaa/goartstore/files-storage/internal/domain/model"
)

// --- Unit-тесты с фейковым DBTX ---

type recordingDB struct {
	query string
	args  []any
	row   pgx.Row
}

func (db *recordingDB) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (db *recordingDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.query = sql
	db.args = args
	return db.row
}

// scanRow присваивает значения по порядку для поддерживаемых типов.
type scanRow struct {
	values []any
	err    error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *bool:
			*p = r.values[i].(bool)
		}
	}
	return nil
}

func TestBuildInsert_OmitsEmptyBucket(t *testing.T) {
	f := &model.FileRecord{UUID: "u", URL: "/u.png", FileName: "a.png", MimeType: "image/png", Extension: "png", Size: 3}

	query, args := buildInsert(f)
	if strings.Contains(query, "bucket") {
		t.Errorf("пустой бакет не должен попадать в INSERT: %s", query)
	}
	if len(args) != 6 {
		t.Errorf("ожидалось 6 аргументов, получено %d", len(args))
	}

	f.Bucket = "docs"
	query, args = buildInsert(f)
	if !strings.Contains(query, "bucket") || !strings.Contains(query, "$7") {
		t.Errorf("бакет должен попадать в INSERT: %s", query)
	}
	if args[6] != "docs" {
		t.Errorf("ожидался бакет docs, получено %v", args[6])
	}
	if !strings.Contains(query, "RETURNING uuid") {
		t.Errorf("INSERT должен возвращать uuid: %s", query)
	}
}

func TestInsert(t *testing.T) {
	now := time.Now().UTC()
	db := &recordingDB{row: scanRow{values: []any{"id-1", now}}}
	repo := NewFileRepository(db)

	f := &model.FileRecord{UUID: "id-1", URL: "/id-1.txt", FileName: "a.txt", MimeType: "text/plain; charset=utf-8", Extension: "txt"}
	if err := repo.Insert(context.Background(), f); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !f.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt не заполнен: %v", f.CreatedAt)
	}
}

func TestInsert_Errors(t *testing.T) {
	tests := []struct {
		name     string
		row      scanRow
		conflict bool
	}{
		{"конфликт", scanRow{err: &pgconn.PgError{Code: "23505"}}, true},
		{"ошибка БД", scanRow{err: errors.New("connection reset")}, false},
		{"чужой uuid", scanRow{values: []any{"other", time.Now()}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewFileRepository(&recordingDB{row: tt.row})
			err := repo.Insert(context.Background(), &model.FileRecord{UUID: "id-1"})
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if errors.Is(err, ErrConflict) != tt.conflict {
				t.Errorf("ErrConflict: ожидалось %v, ошибка %v", tt.conflict, err)
			}
		})
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo := NewFileRepository(&recordingDB{row: scanRow{err: pgx.ErrNoRows}})
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// --- Интеграционный тест ---

func setupTestDB(t *testing.T) *database.Manager {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("files_test"),
		postgres.WithUsername("files"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	portNum, _ := strconv.Atoi(port.Port())

	cfg := &config.Config{
		DBHost: host, DBPort: portNum, DBName: "files_test",
		DBUser: "files", DBPassword: "test-password", DBSSLMode: "disable",
		DBMaxConns: 4, DBAcquireTimeout: 5 * time.Second, DBMaxConnLifetime: time.Minute,
		DBReconnectInterval: time.Second, DBHealthInterval: time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	m, err := database.Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func TestFileRepository_Integration(t *testing.T) {
	m := setupTestDB(t)
	repo := NewFileRepository(m)
	ctx := context.Background()

	plain := model.NewFileRecord(&model.UploadDescriptor{Filename: "a.png", MimeType: "image/png", Extension: "png", Bytes: []byte("x")})
	if err := repo.Insert(ctx, plain); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := repo.GetByID(ctx, plain.UUID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Bucket != "" || got.URL != plain.URL || got.Size != 1 {
		t.Errorf("неожиданная запись: %+v", got)
	}

	var bucketIsNull bool
	if err := m.QueryRow(ctx, `SELECT bucket IS NULL FROM files WHERE uuid = $1`, plain.UUID).Scan(&bucketIsNull); err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	if !bucketIsNull {
		t.Error("пустой бакет должен храниться как NULL")
	}

	inBucket := model.NewFileRecord(&model.UploadDescriptor{Filename: "b.txt", MimeType: "text/plain; charset=utf-8", Extension: "txt", Bucket: "docs"})
	if err := repo.Insert(ctx, inBucket); err != nil {
		t.Fatalf("Insert с бакетом: %v", err)
	}

	if err := repo.Insert(ctx, inBucket); !errors.Is(err, ErrConflict) {
		t.Errorf("повторная вставка: ожидалась ErrConflict, получено %v", err)
	}

	exists, err := repo.Exists(ctx, inBucket.UUID)
	if err != nil || !exists {
		t.Errorf("Exists: ожидалось true, получено %v, %v", exists, err)
	}
	exists, err = repo.Exists(ctx, "00000000-0000-4000-8000-000000000000")
	if err != nil || exists {
		t.Errorf("Exists: ожидалось false, получено %v, %v", exists, err)
	}
}
