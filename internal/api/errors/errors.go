// Пакет errors — закрытый перечень кодов ошибок Files Storage и их
// отображение в HTTP-статусы.
// Единый формат ответа: {"status": 0, "code": "...", "message": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
)

// Code — машиночитаемый код ошибки.
type Code int

const (
	CodeNull Code = iota
	CodeInvalidType
	CodeIncorrect
	CodeUnauthorized
	CodeForbidden
	CodeNotFound
	CodeUpstream
	CodeUnhandled

	numCodes
)

// codeNames — строковые значения кодов в ответах API.
var codeNames = [...]string{
	CodeNull:         "IS_NULL",
	CodeInvalidType:  "INVALID_TYPE",
	CodeIncorrect:    "INCORRECT",
	CodeUnauthorized: "UNAUTHORIZED",
	CodeForbidden:    "FORBIDDEN",
	CodeNotFound:     "NOT_FOUND",
	CodeUpstream:     "UPSTREAM_SERVER_ERROR",
	CodeUnhandled:    "UNHANDLED_ERROR",
}

// httpStatuses — HTTP-статус для каждого кода.
var httpStatuses = [...]int{
	CodeNull:         http.StatusBadRequest,
	CodeInvalidType:  http.StatusBadRequest,
	CodeIncorrect:    http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeNotFound:     http.StatusNotFound,
	CodeUpstream:     http.StatusBadGateway,
	CodeUnhandled:    http.StatusInternalServerError,
}

// Сборка падает, если новый код добавлен без строки или статуса:
// длины таблиц должны совпадать с numCodes.
const (
	_ = uint(len(codeNames) - int(numCodes))
	_ = uint(int(numCodes) - len(codeNames))
	_ = uint(len(httpStatuses) - int(numCodes))
	_ = uint(int(numCodes) - len(httpStatuses))
)

// AllCodes возвращает все коды перечня.
func AllCodes() []Code {
	codes := make([]Code, 0, numCodes)
	for c := Code(0); c < numCodes; c++ {
		codes = append(codes, c)
	}
	return codes
}

// String возвращает строковое значение кода для ответа API.
func (c Code) String() string {
	if c < 0 || c >= numCodes {
		return codeNames[CodeUnhandled]
	}
	return codeNames[c]
}

// HTTPStatus возвращает HTTP-статус кода. Неизвестные коды — 500.
func (c Code) HTTPStatus() int {
	if c < 0 || c >= numCodes {
		return http.StatusInternalServerError
	}
	return httpStatuses[c]
}

// MarshalJSON сериализует код его строковым значением.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Error — отказ с кодом из перечня и сообщением для клиента.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Message
}

// New создаёт ошибку API.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// FromError приводит произвольную ошибку к *Error.
// Ошибки вне перечня становятся UNHANDLED без раскрытия деталей.
func FromError(err error) *Error {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return Unhandled()
}

// --- Конструкторы для типичных ошибок ---

// Null — 400 отсутствует обязательное значение.
func Null(message string) *Error { return New(CodeNull, message) }

// InvalidType — 400 неподдерживаемый тип запроса.
func InvalidType(message string) *Error { return New(CodeInvalidType, message) }

// Incorrect — 400 некорректное значение.
func Incorrect(message string) *Error { return New(CodeIncorrect, message) }

// Unauthorized — 401 секрет не передан.
func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }

// Forbidden — 403 секрет не совпадает.
func Forbidden(message string) *Error { return New(CodeForbidden, message) }

// NotFound — 404 ресурс не найден.
func NotFound(message string) *Error { return New(CodeNotFound, message) }

// Upstream — 502 отказ БД или хранилища.
func Upstream(message string) *Error { return New(CodeUpstream, message) }

// Unhandled — 500 непредвиденная ошибка. Детали пишутся только в лог.
func Unhandled() *Error { return New(CodeUnhandled, "Unhandled error") }

// failureBody — тело ответа с ошибкой.
type failureBody struct {
	Status  int    `json:"status"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// successBody — тело успешного ответа.
type successBody struct {
	Status int `json:"status"`
	Result any `json:"result"`
}

// WriteError записывает ответ ошибки с HTTP-статусом из таблицы кодов.
func WriteError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(failureBody{
		Status:  0,
		Code:    e.Code,
		Message: e.Message,
	})
}

// WriteResult записывает успешный ответ {"status": 1, "result": ...}.
func WriteResult(w http.ResponseWriter, statusCode int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(successBody{
		Status: 1,
		Result: result,
	})
}
