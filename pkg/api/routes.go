package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Collection inspection
	router.HandleFunc("/namespaces/{ns}/count", h.HandleCount).Methods("GET")
	router.HandleFunc("/namespaces/{ns}/size", h.HandleSize).Methods("GET")
	router.HandleFunc("/namespaces/{ns}/documents", h.HandleFind).Methods("GET")
	router.HandleFunc("/namespaces/{ns}/indexes", h.HandleGetIndexes).Methods("GET")
	router.HandleFunc("/namespaces/{ns}/oplog", h.HandleStream).Methods("GET")

	// Replication state
	router.HandleFunc("/replication/minvalid", h.HandleMinValid).Methods("GET")
	router.HandleFunc("/stats", h.HandleStats).Methods("GET")
}
