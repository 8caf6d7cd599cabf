// Пакет filestore — запись и проверка blob-ов на диске.
// Запись атомарна: временный файл → fsync → rename, поэтому по
// итоговому пути никогда не виден частично записанный файл.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInvalidPath — путь выходит за пределы корня хранилища.
var ErrInvalidPath = errors.New("недопустимый путь файла")

// FileStore — управление blob-ами в корневой директории хранилища.
type FileStore struct {
	// root — корневая директория хранения (FS_BUCKETS_DIR)
	root string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoragePath — путь относительно root
	StoragePath string
	// FullPath — путь на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт FileStore над существующей или новой директорией.
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Write записывает данные по пути storagePath ({bucket/}{uuid}.{ext}).
// Родительская директория должна существовать. Существующий файл
// по тому же пути заменяется.
func (fs *FileStore) Write(storagePath string, reader io.Reader) (*SaveResult, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: storagePath,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Exists проверяет существование файла.
func (fs *FileStore) Exists(storagePath string) bool {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// resolve проверяет, что путь остаётся внутри root.
func (fs *FileStore) resolve(storagePath string) (string, error) {
	local := filepath.FromSlash(storagePath)
	if storagePath == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	return filepath.Join(fs.root, local), nil
}
