package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"githook-runner/internal/handlers"
	"githook-runner/internal/middleware"
)

func buildRouter(h *handlers.Handlers) http.Handler {
	router := mux.NewRouter()

	// Webhook gateway
	router.HandleFunc("/webhooks", h.HandleWebhook).Methods("POST")

	// Management API
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/triggers", h.GetTriggers).Methods("GET")
	api.HandleFunc("/triggers", h.CreateTrigger).Methods("POST")
	api.HandleFunc("/triggers/{id}", h.GetTrigger).Methods("GET")
	api.HandleFunc("/triggers/{id}", h.UpdateTrigger).Methods("PUT", "PATCH")
	api.HandleFunc("/triggers/{id}", h.DeleteTrigger).Methods("DELETE")

	api.HandleFunc("/events", h.GetEvents).Methods("GET")
	api.HandleFunc("/events/{id}", h.GetEvent).Methods("GET")

	api.HandleFunc("/executions", h.GetExecutions).Methods("GET")
	api.HandleFunc("/executions/{id}", h.GetExecution).Methods("GET")

	api.HandleFunc("/notifications", h.GetNotifications).Methods("GET")
	api.HandleFunc("/notifications/{id}", h.GetNotification).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods("POST")

	api.HandleFunc("/breakers", h.GetBreakers).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	router.Use(middleware.LoggingMiddleware)

	return router
}
