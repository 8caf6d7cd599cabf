// health.go — обработчики health endpoints Files Storage.
// / и /health — текстовый "OK" для балансировщиков
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL, директории хранилища и WAL)
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/files-storage/internal/config"
)

const serviceName = "files-storage"

// Константы статусов health check.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "fail") и сообщение.
	CheckReady() (status, message string)
}

// DirChecker — проверка, что директории доступны на запись.
type DirChecker struct {
	dirs []string
}

// NewDirChecker создаёт проверку директорий.
func NewDirChecker(dirs ...string) *DirChecker {
	return &DirChecker{dirs: dirs}
}

// CheckReady пробует создать и удалить файл в каждой директории.
func (c *DirChecker) CheckReady() (status, message string) {
	for _, dir := range c.dirs {
		probe := filepath.Join(dir, ".ready_probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o640); err != nil {
			return statusFail, fmt.Sprintf("директория %s недоступна на запись", dir)
		}
		os.Remove(probe)
	}
	return statusOK, "директории доступны"
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	pgChecker      ReadinessChecker
	storageChecker ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// Любая проверка может быть nil — readiness вернёт "fail".
func NewHealthHandler(pgChecker, storageChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		pgChecker:      pgChecker,
		storageChecker: storageChecker,
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		PostgreSQL healthCheckResult `json:"postgresql"`
		Storage    healthCheckResult `json:"storage"`
	} `json:"checks"`
}

// Index — "OK" на / и /health.
func (h *HealthHandler) Index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady — readiness probe. Возвращает 200 (ok) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	resp.Checks.PostgreSQL = check(h.pgChecker)
	resp.Checks.Storage = check(h.storageChecker)

	resp.Status = statusOK
	if resp.Checks.PostgreSQL.Status == statusFail || resp.Checks.Storage.Status == statusFail {
		resp.Status = statusFail
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func check(c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	status, msg := c.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}
