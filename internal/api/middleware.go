// Файл: medrelay/internal/api/middleware.go
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// AdminTokenHeader: заголовок со статическим токеном администратора.
const AdminTokenHeader = "X-Admin-Token"

// AdminTokenMiddleware пропускает запрос, только если токен совпал.
// Пустой token отключает защищённые маршруты целиком.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSONError(w, http.StatusServiceUnavailable, "Admin API is disabled")
				return
			}
			got := r.Header.Get(AdminTokenHeader)
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if got == "" {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Missing admin token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger пишет одну строку zerolog на запрос.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				ev := log.Debug()
				if ww.Status() >= http.StatusInternalServerError {
					ev = log.Warn()
				}
				ev.Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("HTTP запрос")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
