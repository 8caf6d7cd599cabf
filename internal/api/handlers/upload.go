// Пакет handlers — HTTP-обработчики Files Storage.
// upload.go — приём файла: цепочка проверок, затем сохранение.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/files-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/files-storage/internal/domain/model"
)

// bodyOverhead — запас на границы и поля multipart сверх размера файла.
const bodyOverhead = 1 << 20

// UploadValidator — цепочка проверок запроса на загрузку.
type UploadValidator interface {
	Validate(r *http.Request) (*model.UploadDescriptor, *apierrors.Error)
}

// Ingester — сохранение проверенной загрузки.
type Ingester interface {
	Store(ctx context.Context, desc *model.UploadDescriptor) (*model.FileRecord, *apierrors.Error)
}

// UploadHandler — обработчик POST /upload.
type UploadHandler struct {
	validator    UploadValidator
	ingest       Ingester
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewUploadHandler создаёт обработчик загрузки.
// maxFileSize — лимит размера файла; тело запроса ограничивается
// этим лимитом с запасом на служебные части multipart.
func NewUploadHandler(validator UploadValidator, ingest Ingester, maxFileSize int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		validator:    validator,
		ingest:       ingest,
		maxBodyBytes: maxFileSize + bodyOverhead,
		logger:       logger.With(slog.String("component", "upload_handler")),
	}
}

// Upload принимает multipart/form-data и отвечает 201 с описанием файла.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil && r.Body != http.NoBody {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	desc, apiErr := h.validator.Validate(r)
	if apiErr != nil {
		h.logger.Debug("Запрос на загрузку отклонён",
			slog.String("code", apiErr.Code.String()),
			slog.String("message", apiErr.Message),
		)
		apierrors.WriteError(w, apiErr)
		return
	}

	rec, apiErr := h.ingest.Store(r.Context(), desc)
	if apiErr != nil {
		apierrors.WriteError(w, apiErr)
		return
	}

	apierrors.WriteResult(w, http.StatusCreated, rec.Result())
}
