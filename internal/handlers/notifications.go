package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Notification handlers

func (h *Handlers) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var read *bool
	if raw := r.URL.Query().Get("read"); raw != "" {
		value := raw == "true"
		read = &value
	}

	notifications, err := h.storage.ListNotifications(read, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, emptyList(notifications))
}

func (h *Handlers) GetNotification(w http.ResponseWriter, r *http.Request) {
	notification, err := h.storage.GetNotification(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, notification)
}

func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.storage.MarkNotificationRead(id); err != nil {
		h.writeError(w, err)
		return
	}

	notification, err := h.storage.GetNotification(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, notification)
}
