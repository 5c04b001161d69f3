package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"medrelay/internal/moderation"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
	defaultQRSize   = 256
)

type jsonResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Вспомогательные функции для JSON-ответов ---
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(jsonResponse{Status: "error", Message: message})
}

func writeJSONSuccess(w http.ResponseWriter, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(jsonResponse{Status: "success", Message: message, Data: data})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONSuccess(w, "ok", nil)
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}

func (s *server) listModeration(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Moderation.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Не удалось получить список модерации")
		writeJSONError(w, http.StatusInternalServerError, "Failed to list moderation records")
		return
	}
	writeJSONSuccess(w, "", records)
}

func (s *server) moderationStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.deps.Moderation.Status(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("Не удалось получить статус")
		writeJSONError(w, http.StatusInternalServerError, "Failed to get status")
		return
	}
	writeJSONSuccess(w, moderation.StaffStatusText(st), st)
}

func (s *server) moderationAction(action moderation.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDParam(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		text, err := s.deps.Moderation.Apply(r.Context(), action, userID)
		if err != nil {
			s.log.Error().Err(err).Str("action", string(action)).Int64("user_id", userID).Msg("Команда модерации через API не выполнена")
			writeJSONError(w, http.StatusInternalServerError, "Failed to apply action")
			return
		}
		st, err := s.deps.Moderation.Status(r.Context(), userID)
		if err != nil {
			writeJSONSuccess(w, text, nil)
			return
		}
		writeJSONSuccess(w, text, st)
	}
}

func (s *server) thanksTop(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTopLimit {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("limit must be in 1..%d", maxTopLimit))
			return
		}
		limit = n
	}
	top, err := s.deps.Thanks.Top(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Не удалось получить топ благодарностей")
		writeJSONError(w, http.StatusInternalServerError, "Failed to get top")
		return
	}
	writeJSONSuccess(w, "", top)
}

// StartLink: ссылка, открывающая диалог с ботом.
func StartLink(botUsername string) string {
	return fmt.Sprintf("https://t.me/%s?start", botUsername)
}

// startQR отдаёт PNG с QR-кодом ссылки на бота, например для печатных материалов.
func (s *server) startQR(w http.ResponseWriter, r *http.Request) {
	if s.deps.BotUsername == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "Bot username is not configured")
		return
	}
	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > 2048 {
			writeJSONError(w, http.StatusBadRequest, "size must be in 64..2048")
			return
		}
		size = n
	}
	png, err := qrcode.Encode(StartLink(s.deps.BotUsername), qrcode.Medium, size)
	if err != nil {
		s.log.Error().Err(err).Msg("Ошибка кодирования QR-кода")
		writeJSONError(w, http.StatusInternalServerError, "Failed to encode QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *server) runRetention(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Retention.RunOnce(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Ручная очистка завершилась с ошибкой")
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONSuccess(w, "Retention completed", res)
}
