package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"githook-runner/internal/common/errors"
	"githook-runner/internal/storage"
)

// Trigger management handlers

type createTriggerRequest struct {
	Name         string  `json:"name" validate:"required"`
	Repository   string  `json:"repository" validate:"required"`
	EventType    string  `json:"event_type" validate:"required"`
	Action       *string `json:"action"`
	CodefilePath string  `json:"codefile_path" validate:"required"`
	Enabled      *bool   `json:"enabled"`
	Notify       *bool   `json:"notify"`
}

type updateTriggerRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1"`
	Repository   *string `json:"repository" validate:"omitempty,min=1"`
	EventType    *string `json:"event_type" validate:"omitempty,min=1"`
	Action       *string `json:"action"`
	CodefilePath *string `json:"codefile_path" validate:"omitempty,min=1"`
	Enabled      *bool   `json:"enabled"`
	Notify       *bool   `json:"notify"`
}

func (h *Handlers) GetTriggers(w http.ResponseWriter, r *http.Request) {
	filters := storage.TriggerFilters{
		Repository: r.URL.Query().Get("repository"),
		EventType:  r.URL.Query().Get("event_type"),
	}
	if raw := r.URL.Query().Get("action"); raw != "" {
		filters.Action = &raw
	}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled := raw == "true"
		filters.Enabled = &enabled
	}

	triggers, err := h.storage.ListTriggers(filters)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emptyList(triggers))
}

func (h *Handlers) GetTrigger(w http.ResponseWriter, r *http.Request) {
	trigger, err := h.storage.GetTrigger(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trigger)
}

func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req createTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.ValidationError("invalid JSON: "+err.Error()))
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, errors.ValidationError(fmt.Sprintf("invalid trigger: %v", err)))
		return
	}

	trigger := &storage.Trigger{
		Name:         req.Name,
		Repository:   req.Repository,
		EventType:    req.EventType,
		Action:       req.Action,
		CodefilePath: req.CodefilePath,
		Enabled:      true,
		Notify:       false,
	}
	if req.Enabled != nil {
		trigger.Enabled = *req.Enabled
	}
	if req.Notify != nil {
		trigger.Notify = *req.Notify
	}

	if err := h.storage.AddTrigger(trigger); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, trigger)
}

func (h *Handlers) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	var req updateTriggerRequest
	if err := json.NewDecoder(io.TeeReader(r.Body, &buf)).Decode(&req); err != nil {
		h.writeError(w, errors.ValidationError("invalid JSON: "+err.Error()))
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, errors.ValidationError(fmt.Sprintf("invalid trigger update: %v", err)))
		return
	}

	update := storage.TriggerUpdate{
		Name:         req.Name,
		Repository:   req.Repository,
		EventType:    req.EventType,
		Action:       req.Action,
		CodefilePath: req.CodefilePath,
		Enabled:      req.Enabled,
		Notify:       req.Notify,
	}

	// "action": null clears the action filter; an absent key leaves it.
	if req.Action == nil && rawFieldIsNull(buf.Bytes(), "action") {
		update.ClearAction = true
	}

	trigger, err := h.storage.UpdateTrigger(mux.Vars(r)["id"], update)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trigger)
}

func (h *Handlers) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.DeleteTrigger(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func rawFieldIsNull(body []byte, field string) bool {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return false
	}
	value, present := raw[field]
	return present && bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}
