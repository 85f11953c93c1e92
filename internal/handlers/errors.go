// Package handlers exposes the billing services as a JSON HTTP API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/go-prefacturation/httpx"
	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/services"
	"go.uber.org/zap"
)

// writeError maps service errors to HTTP statuses:
// 400 validation, 404 not found, 409 state conflicts, 423 active blocks,
// 503 when the entity lock could not be taken in time.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ve *services.ValidationError
	var be *services.BlockedError
	switch {
	case errors.As(err, &ve):
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", ve.Fields)
	case errors.As(err, &be):
		httpx.JSONError(w, http.StatusLocked, "blocked", be.Blocks)
	case errors.Is(err, services.ErrNotFound):
		httpx.JSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrAlreadyResolved):
		httpx.JSONError(w, http.StatusConflict, "already_resolved", err.Error())
	case errors.Is(err, services.ErrInvalidState):
		httpx.JSONError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, services.ErrConflict):
		httpx.JSONError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, services.ErrUnsupportedFormat):
		httpx.JSONError(w, http.StatusBadRequest, "unsupported_format", err.Error())
	case errors.Is(err, lock.ErrTimeout):
		httpx.JSONError(w, http.StatusServiceUnavailable, "busy", err.Error())
	default:
		log.Error("request failed", zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

func badJSON(w http.ResponseWriter, err error) {
	httpx.JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
}
