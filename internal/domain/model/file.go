// Пакет model — доменные модели Files Storage.
package model

import (
	"time"

	"github.com/google/uuid"
)

// UploadDescriptor — проверенное описание загружаемого файла.
// Создаётся только цепочкой валидации; дальше по конвейеру сырые
// поля запроса не используются.
type UploadDescriptor struct {
	// Filename — исходное имя файла (обрезанное по краям)
	Filename string
	// MimeType — канонический MIME-тип (совпадает с типом расширения)
	MimeType string
	// Extension — расширение без ведущей точки
	Extension string
	// Bytes — содержимое файла
	Bytes []byte
	// Bucket — пространство имён; пустая строка — корень хранилища
	Bucket string
}

// FileRecord — запись о сохранённом файле (таблица files).
type FileRecord struct {
	UUID      string
	Bucket    string // пустая строка хранится как NULL
	URL       string
	FileName  string
	MimeType  string
	Extension string
	Size      int64
	CreatedAt time.Time
}

// NewFileRecord присваивает загрузке идентификатор (UUID v4) и
// выводит из него публичный путь. Существование UUID не проверяется.
func NewFileRecord(desc *UploadDescriptor) *FileRecord {
	id := uuid.New().String()
	return &FileRecord{
		UUID:      id,
		Bucket:    desc.Bucket,
		URL:       FileURL(desc.Bucket, id, desc.Extension),
		FileName:  desc.Filename,
		MimeType:  desc.MimeType,
		Extension: desc.Extension,
		Size:      int64(len(desc.Bytes)),
	}
}

// FileURL возвращает публичный путь файла: /{bucket/}{uuid}.{ext}.
func FileURL(bucket, id, ext string) string {
	return "/" + StoragePath(bucket, id, ext)
}

// StoragePath возвращает путь blob-а относительно корня хранилища:
// {bucket/}{uuid}.{ext}. Разделитель всегда "/".
func StoragePath(bucket, id, ext string) string {
	name := id + "." + ext
	if bucket == "" {
		return name
	}
	return bucket + "/" + name
}

// StoragePath возвращает путь blob-а записи относительно корня хранилища.
func (r *FileRecord) StoragePath() string {
	return StoragePath(r.Bucket, r.UUID, r.Extension)
}

// FileResult — представление записи в ответе API.
type FileResult struct {
	UUID         string `json:"uuid"`
	Bucket       string `json:"bucket,omitempty"`
	URL          string `json:"url"`
	FileName     string `json:"file_name"`
	FileMimeType string `json:"file_mimetype"`
	FileExt      string `json:"file_ext"`
	FileSize     int64  `json:"file_size"`
}

// Result преобразует запись в тело ответа API.
func (r *FileRecord) Result() FileResult {
	return FileResult{
		UUID:         r.UUID,
		Bucket:       r.Bucket,
		URL:          r.URL,
		FileName:     r.FileName,
		FileMimeType: r.MimeType,
		FileExt:      r.Extension,
		FileSize:     r.Size,
	}
}
