// Package handlers implements the HTTP surface: the webhook gateway and
// the management REST API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"githook-runner/internal/circuitbreaker"
	"githook-runner/internal/common/errors"
	"githook-runner/internal/common/logging"
	"githook-runner/internal/engine"
	"githook-runner/internal/signature"
	"githook-runner/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Handlers struct {
	storage  storage.Storage
	verifier *signature.Verifier
	engine   *engine.Engine
	breakers *circuitbreaker.Registry
	validate *validator.Validate
	logger   logging.Logger
}

func New(store storage.Storage, verifier *signature.Verifier, eng *engine.Engine, breakers *circuitbreaker.Registry, logger logging.Logger) *Handlers {
	return &Handlers{
		storage:  store,
		verifier: verifier,
		engine:   eng,
		breakers: breakers,
		validate: validator.New(),
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "http"}),
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// writeError maps any error to the JSON error envelope. Non-AppError
// values are reported as internal without leaking detail.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	appErr, ok := errors.GetAppError(err)
	if !ok {
		appErr = errors.InternalError("internal error", err)
	}

	if appErr.HTTPStatus() >= 500 {
		h.logger.Error("request failed", err)
	}

	writeJSON(w, appErr.HTTPStatus(), errorEnvelope{
		Error: errorBody{
			Type:    string(appErr.Type),
			Message: appErr.Message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// parsePagination reads limit/offset query parameters with sane bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

// emptyList keeps list responses as [] instead of null when nothing matched.
func emptyList[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
