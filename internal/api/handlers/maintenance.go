// maintenance.go — служебные endpoints: список строк без blob-ов.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/files-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/files-storage/internal/service"
)

// Authorizer — проверка секрета служебного запроса.
type Authorizer interface {
	Authorize(r *http.Request) *apierrors.Error
}

// OrphanLister — источник записей о строках без blob-ов.
type OrphanLister interface {
	Orphans(ctx context.Context) ([]service.OrphanedFile, error)
}

// MaintenanceHandler — обработчик служебных endpoints.
type MaintenanceHandler struct {
	auth    Authorizer
	orphans OrphanLister
	logger  *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик служебных endpoints.
func NewMaintenanceHandler(auth Authorizer, orphans OrphanLister, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		auth:    auth,
		orphans: orphans,
		logger:  logger.With(slog.String("component", "maintenance_handler")),
	}
}

// orphanItem — строка без blob-а в ответе API.
type orphanItem struct {
	TransactionID string     `json:"transaction_id"`
	FileID        string     `json:"file_id"`
	URL           string     `json:"url"`
	StartedAt     time.Time  `json:"started_at"`
	DetectedAt    *time.Time `json:"detected_at,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	RowPresent    bool       `json:"row_present"`
	FileName      string     `json:"file_name,omitempty"`
	MimeType      string     `json:"file_mimetype,omitempty"`
	Size          int64      `json:"file_size,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// ListOrphans — GET /api/v1/maintenance/orphans.
func (h *MaintenanceHandler) ListOrphans(w http.ResponseWriter, r *http.Request) {
	if apiErr := h.auth.Authorize(r); apiErr != nil {
		apierrors.WriteError(w, apiErr)
		return
	}

	files, err := h.orphans.Orphans(r.Context())
	if err != nil {
		h.logger.Error("Ошибка чтения orphaned-записей WAL", slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.Unhandled())
		return
	}

	items := make([]orphanItem, 0, len(files))
	for _, f := range files {
		e := f.Entry
		item := orphanItem{
			TransactionID: e.TransactionID,
			FileID:        e.FileID,
			URL:           "/" + e.StoragePath,
			StartedAt:     e.StartedAt,
			DetectedAt:    e.CompletedAt,
			Reason:        e.Reason,
		}
		if rec := f.Record; rec != nil {
			item.RowPresent = true
			item.FileName = rec.FileName
			item.MimeType = rec.MimeType
			item.Size = rec.Size
			createdAt := rec.CreatedAt
			item.CreatedAt = &createdAt
		}
		items = append(items, item)
	}
	apierrors.WriteResult(w, http.StatusOK, items)
}
