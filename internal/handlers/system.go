package handlers

import (
	"net/http"
)

// System handlers

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "storage unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetBreakers exposes the state of every registered circuit breaker.
func (h *Handlers) GetBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breakers.AllStats())
}
