package api

import (
	"net/http"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Ephemeral bool   `json:"ephemeral"`
}

// HandleHealth handles GET requests to the health check endpoint
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:    "healthy",
		Message:   "go-db-repl is running",
		Ephemeral: h.storage.Stats().Ephemeral,
	})
}
