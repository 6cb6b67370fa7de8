// Package response provides JSON response helpers for API handlers and
// middleware.
//
// Every JSON error has the same shape:
//
//	{"error": "message cannot be empty", "code": "validation_error"}
//
// so the chat page only ever needs to read data.error.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/chatrelay/internal/apperror"
)

// ErrorResponse is the body of every JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON sets the content type and status, then encodes data.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// Error maps err to a status and writes it as an ErrorResponse.
func Error(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	JSON(w, status, ErrorResponse{Error: PublicMessage(err), Code: code})
}

// StatusFor maps a domain error to an HTTP status and a machine-readable code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrInvalidCredentials),
		errors.Is(err, apperror.ErrUserNotFound):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrProvider):
		return http.StatusBadGateway, "provider_error"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// PublicMessage is the text a client may see for err. Unknown errors get a
// generic message so SQL, paths and upstream details never leak.
func PublicMessage(err error) string {
	if errors.Is(err, apperror.ErrUserNotFound) {
		return apperror.InvalidCredentials().Message
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "an internal error occurred"
}
