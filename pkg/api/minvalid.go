package api

import (
	"net/http"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// OpTimeResponse is the JSON form of an optime.
type OpTimeResponse struct {
	TS uint32 `json:"ts"`
	I  uint32 `json:"i"`
	T  int64  `json:"t"`
}

func opTimeResponse(ot domain.OpTime) *OpTimeResponse {
	if ot.IsNull() {
		return nil
	}
	return &OpTimeResponse{TS: ot.Timestamp.T, I: ot.Timestamp.I, T: ot.Term}
}

// MinValidResponse is the body of the min-valid endpoint.
type MinValidResponse struct {
	Namespace            string          `json:"namespace"`
	InitialSyncFlag      bool            `json:"initial_sync_flag"`
	MinValid             *OpTimeResponse `json:"min_valid"`
	AppliedThrough       *OpTimeResponse `json:"applied_through"`
	OplogDeleteFromPoint *OpTimeResponse `json:"oplog_delete_from_point"`
}

// HandleMinValid handles GET requests for the replication consistency markers
func (h *Handler) HandleMinValid(w http.ResponseWriter, r *http.Request) {
	opCtx := h.storage.NewOperationContext("http.minValid")
	defer opCtx.Release()

	resp := MinValidResponse{
		Namespace:       h.storage.MinValidNamespace().String(),
		InitialSyncFlag: h.storage.InitialSyncFlag(opCtx),
		MinValid:        opTimeResponse(h.storage.MinValid(opCtx)),
		AppliedThrough:  opTimeResponse(h.storage.AppliedThrough(opCtx)),
	}
	if ts := h.storage.OplogDeleteFromPoint(opCtx); ts != (bson.Timestamp{}) {
		resp.OplogDeleteFromPoint = &OpTimeResponse{TS: ts.T, I: ts.I}
	}
	writeJSON(w, resp)
}
