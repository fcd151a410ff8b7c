package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/session-guard/internal/http/middleware"
	"github.com/sandeepkv93/session-guard/internal/http/response"
	"github.com/sandeepkv93/session-guard/internal/service"
)

// writeServiceError is the single place service failures become HTTP
// responses. Internal detail is logged and never written to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	switch kind {
	case service.KindInvalidCredential:
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", nil)
	case service.KindSessionRevoked:
		response.Error(w, r, http.StatusUnauthorized, "SESSION_REVOKED", "session revoked", nil)
	case service.KindInvalidCode:
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CODE", "invalid verification code", nil)
	case service.KindInvalidToken:
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token", nil)
	case service.KindForbidden:
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
	case service.KindRateLimited:
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts", nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", kind.String(), "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid request body"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "request body too large"
		} else if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", msg, nil)
		return false
	}
	return true
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
