package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"githook-runner/internal/storage"
)

// Execution inspection handlers

func (h *Handlers) GetExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	filters := storage.ExecutionFilters{
		TriggerID: r.URL.Query().Get("trigger_id"),
		EventID:   r.URL.Query().Get("event_id"),
		Status:    r.URL.Query().Get("status"),
	}

	executions, err := h.storage.ListExecutions(filters, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emptyList(executions))
}

func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := h.storage.GetExecution(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, execution)
}
