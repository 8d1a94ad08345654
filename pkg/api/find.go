package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultFindLimit is used when a documents request has no limit parameter.
const DefaultFindLimit = 100

// FindResponse is the body of the documents endpoint.
type FindResponse struct {
	Namespace string            `json:"namespace"`
	Index     string            `json:"index,omitempty"`
	Direction string            `json:"direction"`
	Count     int               `json:"count"`
	Documents []json.RawMessage `json:"documents"`
}

// findQuery holds the parsed query parameters of a documents request.
type findQuery struct {
	index     string
	direction domain.ScanDirection
	bound     domain.BoundInclusion
	limit     int
	start     bson.D
}

func parseFindQuery(q url.Values) (findQuery, error) {
	fq := findQuery{index: q.Get("index"), limit: DefaultFindLimit}

	var err error
	if fq.direction, err = domain.ParseScanDirection(q.Get("direction")); err != nil {
		return fq, err
	}
	if fq.bound, err = domain.ParseBoundInclusion(q.Get("bound")); err != nil {
		return fq, err
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fq, domain.NewStatus(domain.CodeBadValue, "invalid limit %q", s)
		}
		fq.limit = n
	}
	if s := q.Get("start"); s != "" {
		if fq.start, err = parseStartKey(s); err != nil {
			return fq, err
		}
	}
	return fq, nil
}

// parseStartKey reads a start key given as an extended JSON value. A document supplies one
// value per key field; any other value is a single-field key.
func parseStartKey(s string) (bson.D, error) {
	var wrapper bson.D
	if err := bson.UnmarshalExtJSON([]byte(`{"k":`+s+`}`), false, &wrapper); err != nil {
		return nil, domain.NewStatus(domain.CodeBadValue, "invalid start key %q: %v", s, err)
	}
	if len(wrapper) != 1 {
		return nil, domain.NewStatus(domain.CodeBadValue, "invalid start key %q", s)
	}
	if d, ok := wrapper[0].Value.(bson.D); ok {
		return d, nil
	}
	return bson.D{{Key: "", Value: wrapper[0].Value}}, nil
}

// HandleFind handles GET requests for a bounded scan of a collection, by record order or
// through a named index.
func (h *Handler) HandleFind(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceVar(r)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}
	fq, err := parseFindQuery(r.URL.Query())
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}

	opCtx := h.storage.NewOperationContext("http.find")
	defer opCtx.Release()

	docs, err := h.storage.FindDocuments(opCtx, ns, fq.index, fq.direction, fq.start, fq.bound, fq.limit)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}

	out, err := toExtJSON(docs)
	if err != nil {
		h.writeStatusError(w, r, err)
		return
	}
	h.logger.Debug("found documents", "ns", ns.String(), "index", fq.index, "count", len(out))
	writeJSON(w, FindResponse{
		Namespace: ns.String(),
		Index:     fq.index,
		Direction: fq.direction.String(),
		Count:     len(out),
		Documents: out,
	})
}

// toExtJSON renders documents as relaxed extended JSON.
func toExtJSON(docs []domain.Document) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		b, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return nil, errors.Wrap(err, "encode document")
		}
		out = append(out, b)
	}
	return out, nil
}
