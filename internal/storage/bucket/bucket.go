// Пакет bucket — пространства имён (бакеты) в корне хранилища.
// Бакет — поддиректория первого уровня с именем из строчных латинских букв.
// Директории создаются лениво при первой записи; уже созданные
// запоминаются в expirable LRU, чтобы не обращаться к FS на каждую загрузку.
package bucket

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrInvalidName — имя бакета не соответствует ^[a-z]+$.
var ErrInvalidName = errors.New("недопустимое имя бакета")

var namePattern = regexp.MustCompile(`^[a-z]+$`)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_bucket_cache_hits_total",
		Help: "Количество попаданий в кэш созданных директорий бакетов",
	})

	dirsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_bucket_dirs_ensured_total",
		Help: "Количество проверок/созданий директорий бакетов на диске",
	})
)

// ValidName проверяет имя бакета.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Manager — менеджер директорий бакетов.
type Manager struct {
	root   string
	cache  *expirable.LRU[string, struct{}]
	logger *slog.Logger
}

// New создаёт менеджер бакетов и корневую директорию хранилища.
func New(root string, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать корневую директорию %s: %w", root, err)
	}

	return &Manager{
		root:   root,
		cache:  expirable.NewLRU[string, struct{}](cacheSize, nil, cacheTTL),
		logger: logger.With(slog.String("component", "buckets")),
	}, nil
}

// Root возвращает корневую директорию хранилища.
func (m *Manager) Root() string {
	return m.root
}

// Ensure гарантирует существование директории бакета и возвращает её путь.
// Пустое имя — корень хранилища. Существующая директория (в том числе
// созданная параллельным запросом) — не ошибка.
func (m *Manager) Ensure(name string) (string, error) {
	if name == "" {
		return m.root, nil
	}
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	dir := filepath.Join(m.root, name)
	if _, ok := m.cache.Get(name); ok {
		cacheHitsTotal.Inc()
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		// Гонка с параллельным созданием: директория уже есть
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			m.cache.Add(name, struct{}{})
			return dir, nil
		}
		return "", fmt.Errorf("не удалось создать директорию бакета %s: %w", name, err)
	}

	dirsCreatedTotal.Inc()
	m.cache.Add(name, struct{}{})
	m.logger.Debug("Директория бакета готова", slog.String("bucket", name))
	return dir, nil
}

// Forget удаляет бакет из кэша (например, после ошибки записи в него).
func (m *Manager) Forget(name string) {
	m.cache.Remove(name)
}
