package api

import (
	"net/http"
)

// HandleStats handles GET requests for the storage engine counters
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.storage.Stats())
}
