package api

import (
	"net/http"
)

// CountResponse is the body of the count and size endpoints.
type CountResponse struct {
	Namespace string `json:"namespace"`
	Count     *int64 `json:"count,omitempty"`
	Size      *int64 `json:"size,omitempty"`
}

// HandleCount handles GET requests for the number of documents in a collection
func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceVar(r)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}

	opCtx := h.storage.NewOperationContext("http.count")
	defer opCtx.Release()

	count, err := h.storage.GetCollectionCount(opCtx, ns)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}
	writeJSON(w, CountResponse{Namespace: ns.String(), Count: &count})
}

// HandleSize handles GET requests for the stored size of a collection
func (h *Handler) HandleSize(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceVar(r)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}

	opCtx := h.storage.NewOperationContext("http.size")
	defer opCtx.Release()

	size, err := h.storage.GetCollectionSize(opCtx, ns)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}
	writeJSON(w, CountResponse{Namespace: ns.String(), Size: &size})
}
