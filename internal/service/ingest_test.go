package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	apierrors "github.com/bigkaa/goartstore/files-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/files-storage/internal/database"
	"github.com/bigkaa/goartstore/files-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/files-storage/internal/repository"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/bucket"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/filestore"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRepo — репозиторий в памяти.
type fakeRepo struct {
	mu        sync.Mutex
	records   map[string]*model.FileRecord
	insertErr error
	existsErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*model.FileRecord)}
}

func (r *fakeRepo) Insert(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.records[f.UUID]; ok {
		return repository.ErrConflict
	}
	f.CreatedAt = time.Now().UTC()
	cp := *f
	r.records[f.UUID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f, nil
}

func (r *fakeRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existsErr != nil {
		return false, r.existsErr
	}
	_, ok := r.records[id]
	return ok, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// testEnv — окружение сервиса сохранения во временной директории.
type testEnv struct {
	root    string
	repo    *fakeRepo
	store   *filestore.FileStore
	journal *wal.WAL
	ingest  *IngestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "buckets")
	buckets, err := bucket.New(root, 16, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания менеджера бакетов: %v", err)
	}
	store, err := filestore.New(root)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	journal, err := wal.New(filepath.Join(dir, "wal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	repo := newFakeRepo()
	return &testEnv{
		root:    root,
		repo:    repo,
		store:   store,
		journal: journal,
		ingest:  NewIngestService(repo, buckets, store, journal, testLogger()),
	}
}

func descriptor(bucketName string) *model.UploadDescriptor {
	return &model.UploadDescriptor{
		Filename:  "photo.png",
		MimeType:  "image/png",
		Extension: "png",
		Bytes:     []byte("PNGDATA"),
		Bucket:    bucketName,
	}
}

var uuidV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestStore_Success(t *testing.T) {
	tests := []struct {
		bucket string
		url    string
	}{
		{"", `^/[0-9a-f-]{36}\.png$`},
		{"images", `^/images/[0-9a-f-]{36}\.png$`},
	}

	for _, tt := range tests {
		t.Run("bucket="+tt.bucket, func(t *testing.T) {
			env := newTestEnv(t)

			rec, apiErr := env.ingest.Store(context.Background(), descriptor(tt.bucket))
			if apiErr != nil {
				t.Fatalf("неожиданная ошибка: %v", apiErr)
			}
			if !uuidV4.MatchString(rec.UUID) {
				t.Errorf("UUID не v4: %s", rec.UUID)
			}
			if !regexp.MustCompile(tt.url).MatchString(rec.URL) {
				t.Errorf("URL %q не соответствует %s", rec.URL, tt.url)
			}
			if rec.Size != 7 {
				t.Errorf("Size: ожидалось 7, получено %d", rec.Size)
			}

			data, err := os.ReadFile(filepath.Join(env.root, filepath.FromSlash(rec.URL[1:])))
			if err != nil {
				t.Fatalf("blob не найден: %v", err)
			}
			if string(data) != "PNGDATA" {
				t.Errorf("содержимое blob-а: %q", data)
			}

			if env.repo.count() != 1 {
				t.Errorf("ожидалась одна строка, получено %d", env.repo.count())
			}
			pending, _ := env.journal.RecoverPending()
			if len(pending) != 0 {
				t.Errorf("не должно остаться pending-записей, осталось %d", len(pending))
			}
		})
	}
}

func TestStore_InsertFailure(t *testing.T) {
	env := newTestEnv(t)
	env.repo.insertErr = errors.New("relation files does not exist")

	rec, apiErr := env.ingest.Store(context.Background(), descriptor("docs"))
	if rec != nil {
		t.Fatal("запись не должна возвращаться при ошибке")
	}
	if apiErr == nil || apiErr.Code != apierrors.CodeUpstream {
		t.Fatalf("ожидался UPSTREAM, получено %v", apiErr)
	}

	// Ни директории бакета, ни blob-а
	if _, err := os.Stat(filepath.Join(env.root, "docs")); !os.IsNotExist(err) {
		t.Errorf("директория бакета не должна создаваться: %v", err)
	}

	// Запись WAL откатана
	pending, _ := env.journal.RecoverPending()
	if len(pending) != 0 {
		t.Errorf("не должно остаться pending-записей, осталось %d", len(pending))
	}
}

func TestStore_InsertConnectionLossLeavesPending(t *testing.T) {
	env := newTestEnv(t)
	env.repo.insertErr = fmt.Errorf("ошибка сохранения файла: %w", database.ErrUpstream)

	_, apiErr := env.ingest.Store(context.Background(), descriptor(""))
	if apiErr == nil || apiErr.Code != apierrors.CodeUpstream {
		t.Fatalf("ожидался UPSTREAM, получено %v", apiErr)
	}

	pending, _ := env.journal.RecoverPending()
	if len(pending) != 1 {
		t.Fatalf("исход INSERT неизвестен, ожидалась одна pending-запись, получено %d", len(pending))
	}
}

func TestStore_InsertContextErrorLeavesPending(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"таймаут", fmt.Errorf("ошибка сохранения файла: %w", context.DeadlineExceeded)},
		{"отмена", fmt.Errorf("ошибка сохранения файла: %w", context.Canceled)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.insertErr = tt.err

			_, apiErr := env.ingest.Store(context.Background(), descriptor(""))
			if apiErr == nil || apiErr.Code != apierrors.CodeUpstream {
				t.Fatalf("ожидался UPSTREAM, получено %v", apiErr)
			}

			pending, _ := env.journal.RecoverPending()
			if len(pending) != 1 {
				t.Fatalf("исход INSERT неизвестен, ожидалась одна pending-запись, получено %d", len(pending))
			}
		})
	}
}

func TestStore_WALFailureIsUpstream(t *testing.T) {
	env := newTestEnv(t)
	if err := os.RemoveAll(env.journal.Dir()); err != nil {
		t.Fatal(err)
	}

	_, apiErr := env.ingest.Store(context.Background(), descriptor(""))
	if apiErr == nil || apiErr.Code != apierrors.CodeUpstream {
		t.Fatalf("ожидался UPSTREAM, получено %v", apiErr)
	}
	if env.repo.count() != 0 {
		t.Errorf("без записи WAL строка не должна вставляться, строк: %d", env.repo.count())
	}
}

func TestStore_BlobFailureLeavesOrphanedRow(t *testing.T) {
	env := newTestEnv(t)

	// Файл на месте директории бакета
	if err := os.WriteFile(filepath.Join(env.root, "docs"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, apiErr := env.ingest.Store(context.Background(), descriptor("docs"))
	if apiErr == nil || apiErr.Code != apierrors.CodeUpstream {
		t.Fatalf("ожидался UPSTREAM, получено %v", apiErr)
	}

	// Строка осталась: компенсирующего удаления нет
	if env.repo.count() != 1 {
		t.Errorf("ожидалась одна строка без blob-а, получено %d", env.repo.count())
	}

	pending, _ := env.journal.RecoverPending()
	if len(pending) != 1 {
		t.Fatalf("ожидалась одна pending-запись, получено %d", len(pending))
	}
}

func TestStore_IdenticalContentGetsDistinctBlobs(t *testing.T) {
	env := newTestEnv(t)

	first, apiErr := env.ingest.Store(context.Background(), descriptor(""))
	if apiErr != nil {
		t.Fatalf("первая загрузка: %v", apiErr)
	}
	second, apiErr := env.ingest.Store(context.Background(), descriptor(""))
	if apiErr != nil {
		t.Fatalf("вторая загрузка: %v", apiErr)
	}

	if first.UUID == second.UUID || first.URL == second.URL {
		t.Fatalf("идентификаторы совпадают: %s", first.UUID)
	}
	for _, rec := range []*model.FileRecord{first, second} {
		if !env.store.Exists(rec.StoragePath()) {
			t.Errorf("blob %s не найден", rec.StoragePath())
		}
	}
}

func TestStore_ConcurrentUploadsIntoNewBucket(t *testing.T) {
	env := newTestEnv(t)

	const uploads = 16
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < uploads; i++ {
		g.Go(func() error {
			if _, apiErr := env.ingest.Store(ctx, descriptor("fresh")); apiErr != nil {
				return apiErr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("параллельная загрузка в новый бакет завершилась ошибкой: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(env.root, "fresh"))
	if err != nil {
		t.Fatalf("ошибка чтения бакета: %v", err)
	}
	if len(entries) != uploads {
		t.Errorf("ожидалось %d файлов, получено %d", uploads, len(entries))
	}
}
