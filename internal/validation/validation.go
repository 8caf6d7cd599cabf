// Пакет validation — цепочка проверок запроса на загрузку файла.
//
// Проверки выполняются строго по порядку, первая неудачная прерывает
// цепочку и возвращает отказ {code, message}:
//  1. Content-Type задан, Content-Length не 0
//  2. Content-Type — multipart/form-data
//  3. тело разобрано (лимиты multipart, не больше одного файла)
//  4. секрет: Authorization Bearer > query secret > поле secret
//  5. файл передан в поле file или files
//  6. имя, MIME-тип и содержимое файла
//  7. расширение распознаётся реестром MIME-типов
//  8. заявленный MIME-тип совпадает с типом расширения
//  9. бакет (query или поле bucket)
//
// Результат — UploadDescriptor; сырые поля запроса дальше не используются.
package validation

import (
	"crypto/subtle"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/files-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/files-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/files-storage/internal/storage/bucket"
)

// Limits — ограничения разбора multipart-тела.
type Limits struct {
	// MaxFileSize — максимальный размер файла в байтах
	MaxFileSize int64
	// MaxFields — максимальное количество нефайловых полей
	MaxFields int
	// MaxFieldNameSize — максимальная длина имени поля в байтах
	MaxFieldNameSize int
	// MaxFieldSize — максимальная длина значения поля в байтах
	MaxFieldSize int
	// MaxHeaderPairs — максимальное количество заголовков одной части
	MaxHeaderPairs int
}

// DefaultLimits возвращает стандартные лимиты с заданным размером файла.
func DefaultLimits(maxFileSize int64) Limits {
	return Limits{
		MaxFileSize:      maxFileSize,
		MaxFields:        10,
		MaxFieldNameSize: 36,
		MaxFieldSize:     100,
		MaxHeaderPairs:   2000,
	}
}

// Имена полей запроса.
const (
	fieldFile   = "file"
	fieldFiles  = "files"
	fieldSecret = "secret"
	fieldBucket = "bucket"
)

// Validator — цепочка проверок запроса на загрузку.
type Validator struct {
	apiKey []byte
	limits Limits
}

// New создаёт цепочку проверок с секретом apiKey.
func New(apiKey string, limits Limits) *Validator {
	return &Validator{apiKey: []byte(apiKey), limits: limits}
}

// filePart — файловая часть multipart-тела.
type filePart struct {
	filename string
	mimeType string
	data     []byte
}

// form — разобранное multipart-тело.
type form struct {
	fields    map[string]string
	file      *filePart
	fileParts int
	parts     int
}

// Validate выполняет цепочку проверок над запросом.
func (v *Validator) Validate(r *http.Request) (*model.UploadDescriptor, *apierrors.Error) {
	// 1. Content-Type и Content-Length
	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == "" || r.ContentLength == 0 {
		return nil, apierrors.Null("Тело запроса или Content-Type не заданы")
	}

	// 2. multipart/form-data
	if !strings.HasPrefix(strings.ToLower(contentType), "multipart/form-data") {
		return nil, apierrors.InvalidType("Ожидается Content-Type multipart/form-data")
	}

	// 3. Разбор тела
	if r.Body == nil || r.Body == http.NoBody {
		return nil, apierrors.Null("Тело запроса пустое")
	}
	f, apiErr := v.parse(r)
	if apiErr != nil {
		return nil, apiErr
	}
	if f.parts == 0 {
		return nil, apierrors.Null("Тело запроса пустое")
	}

	// 4. Секрет
	if apiErr := v.checkSecret(credential(r, f)); apiErr != nil {
		return nil, apiErr
	}

	// 5. Файл
	part := f.file
	if part == nil {
		return nil, apierrors.Null("Файл не передан (поле file или files)")
	}

	// 6. Имя, MIME-тип, содержимое
	filename := strings.TrimSpace(part.filename)
	if filename == "" {
		return nil, apierrors.Null("Имя файла не задано")
	}
	if strings.TrimSpace(part.mimeType) == "" {
		return nil, apierrors.Null("MIME-тип файла не задан")
	}
	if part.data == nil {
		return nil, apierrors.Incorrect("Содержимое файла отсутствует")
	}

	// 7. Расширение
	ext := extensionOf(filename)
	if ext == "" {
		return nil, apierrors.Incorrect("Расширение файла не определено")
	}
	extMIME := MIMEByExtension(ext)
	if extMIME == "" {
		return nil, apierrors.Incorrect("Неизвестное расширение файла: " + ext)
	}

	// 8. Заявленный MIME-тип совпадает с типом расширения
	declared := CanonicalMIME(part.mimeType)
	if declared == "" {
		return nil, apierrors.Incorrect("Некорректный MIME-тип файла")
	}
	if declared != extMIME {
		return nil, apierrors.Incorrect("MIME-тип файла не соответствует расширению")
	}

	// 9. Бакет
	bucketName, apiErr := bucketOf(r, f)
	if apiErr != nil {
		return nil, apiErr
	}

	return &model.UploadDescriptor{
		Filename:  filename,
		MimeType:  extMIME,
		Extension: ext,
		Bytes:     part.data,
		Bucket:    bucketName,
	}, nil
}

// parse читает multipart-тело целиком, применяя лимиты.
// Файловой считается часть с filename или в поле file/files; больше одной
// такой части — отказ.
func (v *Validator) parse(r *http.Request) (*form, *apierrors.Error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apierrors.Incorrect("Некорректное multipart-тело")
	}

	f := &form{fields: make(map[string]string)}

	for {
		p, err := mr.NextPart()
		// io.EOF без обёртки — только после завершающей границы
		if err == io.EOF { //nolint:errorlint
			break
		}
		if err != nil {
			return nil, readError(err)
		}
		f.parts++

		if apiErr := v.parsePart(p, f); apiErr != nil {
			p.Close()
			return nil, apiErr
		}
		p.Close()
	}
	return f, nil
}

func (v *Validator) parsePart(p *multipart.Part, f *form) *apierrors.Error {
	pairs := 0
	for _, values := range p.Header {
		pairs += len(values)
	}
	if pairs > v.limits.MaxHeaderPairs {
		return apierrors.Incorrect("Слишком много заголовков в части multipart")
	}

	name := p.FormName()
	if len(name) > v.limits.MaxFieldNameSize {
		return apierrors.Incorrect("Слишком длинное имя поля")
	}

	filename := p.FileName()
	isFileField := name == fieldFile || name == fieldFiles
	if isFileField || filename != "" {
		f.fileParts++
		if f.fileParts > 1 {
			return apierrors.Incorrect("Разрешена загрузка только одного файла")
		}
		if !isFileField {
			// файл в постороннем поле не принимается
			return nil
		}

		data, err := io.ReadAll(io.LimitReader(p, v.limits.MaxFileSize+1))
		if err != nil {
			return readError(err)
		}
		if int64(len(data)) > v.limits.MaxFileSize {
			return apierrors.Incorrect("Размер файла превышает допустимый")
		}
		f.file = &filePart{
			filename: filename,
			mimeType: p.Header.Get("Content-Type"),
			data:     data,
		}
		return nil
	}

	if len(f.fields) >= v.limits.MaxFields {
		return apierrors.Incorrect("Слишком много полей формы")
	}
	value, err := io.ReadAll(io.LimitReader(p, int64(v.limits.MaxFieldSize)+1))
	if err != nil {
		return readError(err)
	}
	if len(value) > v.limits.MaxFieldSize {
		return apierrors.Incorrect("Слишком длинное значение поля " + name)
	}
	if _, exists := f.fields[name]; !exists {
		f.fields[name] = string(value)
	}
	return nil
}

func readError(err error) *apierrors.Error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return apierrors.Incorrect("Размер запроса превышает допустимый")
	}
	return apierrors.Incorrect("Некорректное multipart-тело")
}

// credential извлекает секрет: Authorization > query secret > поле secret.
// В заголовке из двух частей ("Bearer <key>") берётся вторая часть,
// иначе заголовок целиком. Пустой токен не считается переданным.
func credential(r *http.Request, f *form) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		token := h
		if parts := strings.Split(h, " "); len(parts) == 2 {
			token = parts[1]
		}
		if token != "" {
			return token, true
		}
	}
	if s := r.URL.Query().Get(fieldSecret); s != "" {
		return s, true
	}
	if f == nil {
		return "", false
	}
	if s := f.fields[fieldSecret]; s != "" {
		return s, true
	}
	return "", false
}

// Authorize проверяет секрет служебных запросов без тела:
// заголовок Authorization или query secret.
func (v *Validator) Authorize(r *http.Request) *apierrors.Error {
	return v.checkSecret(credential(r, nil))
}

// checkSecret сравнивает секрет с ключом за постоянное время.
func (v *Validator) checkSecret(secret string, ok bool) *apierrors.Error {
	if !ok {
		return apierrors.Unauthorized("Секрет не передан")
	}
	if subtle.ConstantTimeCompare([]byte(secret), v.apiKey) != 1 {
		return apierrors.Forbidden("Неверный секрет")
	}
	return nil
}

// extensionOf возвращает текст после последней точки в имени файла.
// Для имён без точки и скрытых файлов (".env") — пустая строка.
func extensionOf(filename string) string {
	base := filename[strings.LastIndexAny(filename, `/\`)+1:]
	i := strings.LastIndex(base, ".")
	if i <= 0 {
		return ""
	}
	return strings.TrimSpace(base[i+1:])
}

// bucketOf извлекает бакет из query или поля формы.
// Пустое значение — бакета нет.
func bucketOf(r *http.Request, f *form) (string, *apierrors.Error) {
	raw := r.URL.Query().Get(fieldBucket)
	if raw == "" {
		raw = f.fields[fieldBucket]
	}
	if raw == "" {
		return "", nil
	}

	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", apierrors.Incorrect("Имя бакета пустое")
	}
	if !bucket.ValidName(name) {
		return "", apierrors.Incorrect("Имя бакета может содержать только латинские буквы")
	}
	return name, nil
}
