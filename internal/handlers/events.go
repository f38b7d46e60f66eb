package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Event inspection handlers

func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	events, err := h.storage.ListEvents(limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emptyList(events))
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.storage.GetEvent(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}
