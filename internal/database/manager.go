// manager.go — менеджер пула подключений PostgreSQL.
//
// Каждая операция берёт одно подключение из пула (ожидание ограничено
// acquireTimeout), выполняет запрос и возвращает подключение в пул на любом
// пути выхода. Фатальные ошибки пула (обрыв соединения, недоступность
// сервера) передаются фоновому супервизору, который закрывает старый пул и
// строит новый с той же конфигурацией, повторяя попытки с фиксированным
// интервалом до успеха или остановки. Операции, начатые на старом пуле,
// завершаются ошибкой и не повторяются.
package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ошибки менеджера подключений.
var (
	// ErrUpstream — PostgreSQL недоступен или не ответил вовремя.
	ErrUpstream = errors.New("PostgreSQL недоступен")
	// ErrPoolClosed — пул закрыт (остановка или пересоздание).
	ErrPoolClosed = errors.New("пул подключений закрыт")
)

var (
	poolAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_db_pool_alive",
		Help: "Состояние пула подключений PostgreSQL (1 = рабочий, 0 = пересоздаётся или закрыт)",
	})

	poolReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_db_reconnects_total",
		Help: "Количество успешных пересозданий пула подключений",
	})

	poolFatalErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_db_fatal_errors_total",
		Help: "Количество фатальных ошибок пула подключений",
	})

	acquireTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_db_acquire_timeouts_total",
		Help: "Количество превышений времени ожидания подключения из пула",
	})
)

// conn — подключение, взятое из пула.
type conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// pool — пул подключений.
type pool interface {
	Acquire(ctx context.Context) (conn, error)
	Ping(ctx context.Context) error
	Close()
}

// poolFactory строит пул по конфигурации. Подключения создаются лениво.
type poolFactory func(ctx context.Context, cfg *pgxpool.Config) (pool, error)

// pgxPool адаптирует *pgxpool.Pool к интерфейсу pool.
type pgxPool struct {
	p *pgxpool.Pool
}

func newPgxPool(ctx context.Context, cfg *pgxpool.Config) (pool, error) {
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgxPool{p: p}, nil
}

func (pp *pgxPool) Acquire(ctx context.Context) (conn, error) {
	c, err := pp.p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (pp *pgxPool) Ping(ctx context.Context) error { return pp.p.Ping(ctx) }

func (pp *pgxPool) Close() { pp.p.Close() }

// generation — текущий пул и его порядковый номер.
type generation struct {
	pool pool
	id   uint64
}

// fatalEvent — фатальная ошибка, замеченная на пуле поколения gen.
type fatalEvent struct {
	gen uint64
	err error
}

// Settings — параметры поведения менеджера.
type Settings struct {
	// AcquireTimeout — максимальное ожидание подключения из пула
	AcquireTimeout time.Duration
	// ReconnectInterval — фиксированная задержка между попытками пересоздания
	ReconnectInterval time.Duration
	// HealthInterval — интервал фоновой проверки текущего пула
	HealthInterval time.Duration
}

// Manager — менеджер пула подключений PostgreSQL.
// Реализует repository.DBTX.
type Manager struct {
	// cfg — исходная конфигурация; каждое поколение пула строится из её копии
	cfg      *pgxpool.Config
	newPool  poolFactory
	settings Settings
	logger   *slog.Logger

	mu      sync.RWMutex
	current *generation
	lastGen atomic.Uint64

	alive        atomic.Bool
	reconnecting atomic.Bool
	fatal        chan fatalEvent

	cancel context.CancelFunc
	done   chan struct{}
}

func newManager(cfg *pgxpool.Config, settings Settings, factory poolFactory, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		newPool:  factory,
		settings: settings,
		logger:   logger.With(slog.String("component", "db_manager")),
		fatal:    make(chan fatalEvent, 1),
	}
}

// connect строит первый пул и проверяет его тривиальным запросом.
// Ошибка здесь фатальна для запуска сервиса.
func (m *Manager) connect(ctx context.Context) error {
	gen, err := m.build(ctx)
	if err != nil {
		return err
	}
	m.install(gen)
	return nil
}

// build создаёт пул нового поколения и проверяет его запросом SELECT 1.
func (m *Manager) build(ctx context.Context) (*generation, error) {
	id := m.lastGen.Load() + 1

	p, err := m.newPool(ctx, m.poolConfig(id))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.settings.AcquireTimeout)
	defer cancel()

	c, err := p.Acquire(checkCtx)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}
	_, err = c.Exec(checkCtx, "SELECT 1")
	c.Release()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("проверка PostgreSQL не пройдена: %w", err)
	}

	return &generation{pool: p, id: id}, nil
}

// poolConfig возвращает копию исходной конфигурации с наблюдателями
// для поколения id.
func (m *Manager) poolConfig(id uint64) *pgxpool.Config {
	cfg := m.cfg.Copy()

	var connected atomic.Bool
	cfg.AfterConnect = func(_ context.Context, _ *pgx.Conn) error {
		if connected.CompareAndSwap(false, true) {
			m.logger.Info("Подключение к PostgreSQL установлено",
				slog.Uint64("generation", id),
			)
		}
		return nil
	}
	return cfg
}

// install делает поколение текущим.
func (m *Manager) install(gen *generation) {
	m.mu.Lock()
	m.current = gen
	m.mu.Unlock()

	m.lastGen.Store(gen.id)
	m.alive.Store(true)
	poolAlive.Set(1)
}

// detach снимает текущее поколение и возвращает его.
func (m *Manager) detach() *generation {
	m.mu.Lock()
	gen := m.current
	m.current = nil
	m.mu.Unlock()

	m.alive.Store(false)
	poolAlive.Set(0)
	return gen
}

func (m *Manager) currentGeneration() *generation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// acquire берёт подключение из текущего пула. Ожидание дольше
// AcquireTimeout завершается ErrUpstream.
func (m *Manager) acquire(ctx context.Context) (conn, uint64, error) {
	gen := m.currentGeneration()
	if gen == nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrUpstream, ErrPoolClosed)
	}

	acqCtx, cancel := context.WithTimeout(ctx, m.settings.AcquireTimeout)
	defer cancel()

	c, err := gen.pool.Acquire(acqCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			acquireTimeoutsTotal.Inc()
			return nil, gen.id, fmt.Errorf("%w: подключение не получено за %s", ErrUpstream, m.settings.AcquireTimeout)
		}
		return nil, gen.id, m.classify(gen.id, err)
	}
	return c, gen.id, nil
}

// Exec выполняет запрос без результата.
func (m *Manager) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	c, gen, err := m.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer c.Release()

	tag, err := c.Exec(ctx, sql, arguments...)
	if err != nil {
		return tag, m.classify(gen, err)
	}
	return tag, nil
}

// QueryRow возвращает строку, запрос для которой выполняется в Scan:
// подключение берётся и возвращается внутри Scan.
func (m *Manager) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &deferredRow{m: m, ctx: ctx, sql: sql, args: args}
}

type deferredRow struct {
	m    *Manager
	ctx  context.Context
	sql  string
	args []any
}

func (r *deferredRow) Scan(dest ...any) error {
	c, gen, err := r.m.acquire(r.ctx)
	if err != nil {
		return err
	}
	defer c.Release()

	if err := c.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return r.m.classify(gen, err)
	}
	return nil
}

// classify оборачивает ошибки уровня соединения в ErrUpstream и
// сообщает о них супервизору. Ошибки PostgreSQL (PgError) возвращаются как есть.
func (m *Manager) classify(gen uint64, err error) error {
	if !isFatal(err) {
		return err
	}
	m.reportFatal(gen, err)
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// reportFatal передаёт ошибку супервизору без блокировки.
func (m *Manager) reportFatal(gen uint64, err error) {
	select {
	case m.fatal <- fatalEvent{gen: gen, err: err}:
	default:
	}
}

// isFatal определяет, говорит ли ошибка о неработоспособности пула.
// Фатальны только ошибки уровня соединения: ошибки клиента (сканирование,
// кодирование аргументов) и ошибки SQL пул не пересоздают.
func isFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01 admin_shutdown, 57P02 crash_shutdown, 57P03 cannot_connect_now
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}

// HealthCheck выполняет SELECT 1 через текущий пул.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	_, err := m.Exec(ctx, "SELECT 1")
	return err == nil
}

// Alive возвращает true, если текущий пул рабочий.
func (m *Manager) Alive() bool {
	return m.alive.Load()
}

// Reconnecting возвращает true, пока супервизор пересоздаёт пул.
func (m *Manager) Reconnecting() bool {
	return m.reconnecting.Load()
}

// ConnConfig возвращает копию параметров подключения (для отдельных клиентов,
// например проверки зависимостей).
func (m *Manager) ConnConfig() *pgx.ConnConfig {
	return m.cfg.ConnConfig.Copy()
}

// Start запускает фоновой супервизор пула.
func (m *Manager) Start(ctx context.Context) {
	svCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.supervise(svCtx)

	m.logger.Info("Супервизор пула PostgreSQL запущен",
		slog.String("health_interval", m.settings.HealthInterval.String()),
		slog.String("reconnect_interval", m.settings.ReconnectInterval.String()),
	)
}

// Stop останавливает супервизор и закрывает текущий пул.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	if gen := m.detach(); gen != nil {
		gen.pool.Close()
	}
	m.logger.Info("Пул PostgreSQL закрыт")
}

// supervise — основной цикл супервизора.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.settings.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.fatal:
			gen := m.currentGeneration()
			if gen == nil || gen.id != ev.gen {
				// ошибка относится к уже заменённому пулу
				continue
			}
			m.replace(ctx, ev.err)
		case <-ticker.C:
			m.checkPool(ctx)
		}
	}
}

// checkPool пингует текущий пул. Неудачный пинг, кроме таймаута, означает
// неработоспособный пул. Исчерпание пула фатальной ошибкой не считается.
func (m *Manager) checkPool(ctx context.Context) {
	gen := m.currentGeneration()
	if gen == nil {
		m.replace(ctx, ErrPoolClosed)
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.settings.AcquireTimeout)
	defer cancel()

	err := gen.pool.Ping(pingCtx)
	if err == nil || ctx.Err() != nil {
		return
	}
	if pgconn.Timeout(err) {
		m.logger.Warn("Проверка пула PostgreSQL не уложилась в таймаут",
			slog.String("error", err.Error()),
		)
		return
	}
	m.replace(ctx, err)
}

// replace закрывает текущий пул (без ожидания и без учёта ошибок) и строит
// новый с той же конфигурацией. Неудачные попытки повторяются через
// ReconnectInterval, пока ctx не отменён.
func (m *Manager) replace(ctx context.Context, cause error) {
	poolFatalErrorsTotal.Inc()
	m.reconnecting.Store(true)
	defer m.reconnecting.Store(false)

	m.logger.Error("Фатальная ошибка пула PostgreSQL, пул будет пересоздан",
		slog.String("error", cause.Error()),
	)

	if old := m.detach(); old != nil {
		// Close ждёт возврата занятых подключений — не блокируем супервизор
		go old.pool.Close()
	}

	for attempt := 1; ; attempt++ {
		gen, err := m.build(ctx)
		if err == nil {
			m.install(gen)
			poolReconnectsTotal.Inc()
			m.logger.Info("Пул PostgreSQL пересоздан",
				slog.Uint64("generation", gen.id),
				slog.Int("attempts", attempt),
			)
			return
		}

		m.logger.Warn("Не удалось пересоздать пул PostgreSQL",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.settings.ReconnectInterval):
		}
	}
}
