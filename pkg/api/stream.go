package api

import (
	"net/http"
	"strconv"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// HandleStream handles GET requests to stream a collection newest first, the order an oplog
// is read back in. An optional limit caps the number of entries.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceVar(r)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}
	limit := -1
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeStatusError(w, r, domain.NewStatus(domain.CodeBadValue, "invalid limit %q", s))
			return
		}
		limit = n
	}

	it, err := h.storage.NewOplogIterator(ns)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}

	// Set headers for streaming
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	w.Write([]byte("[\n"))

	count := 0
	for limit < 0 || count < limit {
		rec, err := it.Next()
		if errors.Is(err, domain.ErrCollectionIsEmpty) {
			break
		}
		if err != nil {
			// Headers are already out; end the array and leave the cause in the log.
			h.logger.Error("oplog stream failed", "ns", ns.String(), "error", err)
			break
		}

		docJSON, err := bson.MarshalExtJSON(rec.Doc, false, false)
		if err != nil {
			h.logger.Error("failed to encode document", "ns", ns.String(), "record_id", rec.ID, "error", err)
			continue
		}
		if count > 0 {
			w.Write([]byte(",\n"))
		}
		if _, err := w.Write(docJSON); err != nil {
			h.logger.Warn("client went away during stream", "ns", ns.String(), "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		count++
	}

	w.Write([]byte("\n]"))
	h.logger.Debug("streamed oplog", "ns", ns.String(), "count", count)
}
