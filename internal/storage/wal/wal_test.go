package wal

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(filepath.Join(t.TempDir(), "wal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

func TestNew_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права на директорию")
	}
	walDir := filepath.Join(t.TempDir(), "wal")
	if err := os.MkdirAll(walDir, 0o550); err != nil {
		t.Fatalf("не удалось создать директорию: %v", err)
	}

	if _, err := New(walDir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

func TestStartTransaction(t *testing.T) {
	w := newTestWAL(t)

	entry, err := w.StartTransaction(OpFileCreate, "file-123", "docs/file-123.txt")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус %s, получен %s", StatusPending, entry.Status)
	}
	if entry.StoragePath != "docs/file-123.txt" {
		t.Errorf("StoragePath: получено %q", entry.StoragePath)
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending")
	}

	if _, err := os.Stat(filepath.Join(w.Dir(), walFileName(entry.TransactionID))); err != nil {
		t.Errorf("WAL-файл не найден: %v", err)
	}
}

func TestFinishTransitions(t *testing.T) {
	tests := []struct {
		name   string
		finish func(w *WAL, txID string) error
		want   TransactionStatus
	}{
		{"commit", func(w *WAL, id string) error { return w.Commit(id) }, StatusCommitted},
		{"rollback", func(w *WAL, id string) error { return w.Rollback(id, "insert failed") }, StatusRolledBack},
		{"orphaned", func(w *WAL, id string) error { return w.MarkOrphaned(id, "disk full") }, StatusOrphaned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWAL(t)
			entry, err := w.StartTransaction(OpFileCreate, "f", "f.txt")
			if err != nil {
				t.Fatalf("ошибка создания транзакции: %v", err)
			}

			if err := tt.finish(w, entry.TransactionID); err != nil {
				t.Fatalf("ошибка завершения: %v", err)
			}

			got, err := w.GetTransaction(entry.TransactionID)
			if err != nil {
				t.Fatalf("ошибка чтения: %v", err)
			}
			if got.Status != tt.want {
				t.Errorf("ожидался статус %s, получен %s", tt.want, got.Status)
			}
			if got.CompletedAt == nil {
				t.Error("CompletedAt должен быть установлен")
			}

			// Повторное завершение запрещено
			if err := w.Commit(entry.TransactionID); err == nil {
				t.Error("ожидалась ошибка при повторном завершении")
			}
		})
	}
}

func TestCommit_NotFound(t *testing.T) {
	w := newTestWAL(t)
	if err := w.Commit("missing"); err == nil {
		t.Fatal("ожидалась ошибка для несуществующей транзакции")
	}
}

func TestRecoverPendingAndOrphaned(t *testing.T) {
	w := newTestWAL(t)

	pending, _ := w.StartTransaction(OpFileCreate, "p", "p.txt")
	committed, _ := w.StartTransaction(OpFileCreate, "c", "c.txt")
	orphan, _ := w.StartTransaction(OpFileCreate, "o", "o.txt")
	_ = w.Commit(committed.TransactionID)
	_ = w.MarkOrphaned(orphan.TransactionID, "write failed")

	// Повреждённая запись пропускается
	os.WriteFile(filepath.Join(w.Dir(), "broken.wal.json"), []byte("{"), 0o640)

	got, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if len(got) != 1 || got[0].TransactionID != pending.TransactionID {
		t.Errorf("ожидалась одна pending-запись %s, получено %+v", pending.TransactionID, got)
	}

	orphans, err := w.ListOrphaned()
	if err != nil {
		t.Fatalf("ошибка чтения orphaned: %v", err)
	}
	if len(orphans) != 1 || orphans[0].FileID != "o" || orphans[0].Reason != "write failed" {
		t.Errorf("неожиданный список orphaned: %+v", orphans)
	}
}

func TestCleanCommitted_KeepsOrphaned(t *testing.T) {
	w := newTestWAL(t)

	c, _ := w.StartTransaction(OpFileCreate, "c", "c.txt")
	r, _ := w.StartTransaction(OpFileCreate, "r", "r.txt")
	o, _ := w.StartTransaction(OpFileCreate, "o", "o.txt")
	p, _ := w.StartTransaction(OpFileCreate, "p", "p.txt")
	_ = w.Commit(c.TransactionID)
	_ = w.Rollback(r.TransactionID, "db")
	_ = w.MarkOrphaned(o.TransactionID, "disk")

	cleaned, err := w.CleanCommitted()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 удалённых записи, получено %d", cleaned)
	}

	for _, id := range []string{o.TransactionID, p.TransactionID} {
		if _, err := w.GetTransaction(id); err != nil {
			t.Errorf("запись %s не должна удаляться: %v", id, err)
		}
	}
}

func TestConcurrentTransactions(t *testing.T) {
	w := newTestWAL(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := w.StartTransaction(OpFileCreate, "f", "f.txt")
			if err != nil {
				t.Errorf("ошибка создания транзакции: %v", err)
				return
			}
			if err := w.Commit(e.TransactionID); err != nil {
				t.Errorf("ошибка коммита: %v", err)
			}
		}()
	}
	wg.Wait()

	pending, _ := w.RecoverPending()
	if len(pending) != 0 {
		t.Errorf("не должно остаться pending-записей, осталось %d", len(pending))
	}
}

func TestEntryAge(t *testing.T) {
	now := time.Now()
	e := &Entry{StartedAt: now.Add(-time.Minute)}
	if e.Age(now) != time.Minute {
		t.Errorf("ожидался возраст 1m, получено %s", e.Age(now))
	}
}
