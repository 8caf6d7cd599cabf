// Пакет wal — файловый журнал намерений (Write-Ahead Log) для
// двухфазного сохранения: строка в БД, затем blob на диске.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в FS_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

// OpFileCreate — сохранение нового файла (строка + blob).
const OpFileCreate OperationType = "file_create"

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — операция начата и не подтверждена
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — строка и blob сохранены
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — строка не сохранена, следов операции нет
	StatusRolledBack TransactionStatus = "rolled_back"
	// StatusOrphaned — строка сохранена, blob нет; требует ручной сверки
	StatusOrphaned TransactionStatus = "orphaned"
)

// Entry — запись WAL.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// FileID — uuid файла
	FileID string `json:"file_id"`
	// StoragePath — путь blob-а относительно корня хранилища
	StoragePath string `json:"storage_path"`

	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil для pending транзакций
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Reason — причина перевода в orphaned/rolled_back
	Reason string `json:"reason,omitempty"`
}

// Age возвращает время, прошедшее с начала транзакции.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StartedAt)
}

func walFileName(txID string) string {
	return txID + ".wal.json"
}
