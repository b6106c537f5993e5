package httputil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/room-client/pkg/errs"
)

type envelope map[string]any

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// OK: «успешный» ответ с обёрткой.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{"data": data})
}

// Status: как OK, но с произвольным кодом (201, 202).
func Status(w http.ResponseWriter, status int, data any) {
	JSON(w, status, envelope{"data": data})
}

// Error: унифицированная ошибка (message + meta).
func Error(w http.ResponseWriter, status int, msg string, meta map[string]any) {
	inner := envelope{"message": msg}
	if len(meta) > 0 {
		inner["meta"] = meta
	}
	JSON(w, status, envelope{"error": inner})
}

// Fail переводит ошибку в статус через errs.ToHTTP.
func Fail(w http.ResponseWriter, err error) {
	Error(w, errs.ToHTTP(err), err.Error(), nil)
}

// DecodeJSON читает тело запроса; ошибка оборачивает errs.ErrInvalidInput.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return nil
}
