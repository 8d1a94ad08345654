package api

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// IndexInfo describes one index of a collection.
type IndexInfo struct {
	Spec    json.RawMessage `json:"spec"`
	Ready   bool            `json:"ready"`
	Entries int             `json:"entries"`
}

// IndexesResponse is the body of the indexes endpoint.
type IndexesResponse struct {
	Namespace  string      `json:"namespace"`
	Indexes    []IndexInfo `json:"indexes"`
	IndexCount int         `json:"index_count"`
}

// HandleGetIndexes handles GET requests to retrieve all indexes for a collection, builds
// that have not finished included
func (h *Handler) HandleGetIndexes(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceVar(r)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}

	opCtx := h.storage.NewOperationContext("http.listIndexes")
	defer opCtx.Release()

	descs, err := h.storage.ListIndexes(opCtx, ns)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}

	indexes := make([]IndexInfo, 0, len(descs))
	for _, d := range descs {
		spec, err := bson.MarshalExtJSON(d.Spec.ToBSON(), false, false)
		if err != nil {
			h.writeStatusError(w, r, errors.Wrapf(err, "encode index %s", d.Spec.Name))
			return
		}
		indexes = append(indexes, IndexInfo{Spec: spec, Ready: d.Ready, Entries: d.Entries})
	}

	writeJSON(w, IndexesResponse{
		Namespace:  ns.String(),
		Indexes:    indexes,
		IndexCount: len(indexes),
	})
}
