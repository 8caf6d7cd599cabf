// recover.go — граница обработки паник: паника в обработчике превращается
// в ответ UNHANDLED (500), если значение паники не *apierrors.Error.
// Подробности — только в лог.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/goartstore/files-storage/internal/api/errors"
)

// Recoverer возвращает middleware перехвата паник.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// Прерывание соединения обрабатывает net/http
				if rec == http.ErrAbortHandler { //nolint:errorlint
					panic(rec)
				}

				logger.Error("Паника при обработке запроса",
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", chimw.GetReqID(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				apierrors.WriteError(w, panicError(rec))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// panicError приводит значение паники к ошибке API.
func panicError(rec any) *apierrors.Error {
	if err, ok := rec.(error); ok {
		return apierrors.FromError(err)
	}
	return apierrors.Unhandled()
}
