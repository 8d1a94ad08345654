package repl

import (
	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/indexing"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type scanMode int

const (
	scanFind scanMode = iota
	scanDelete
)

func (m scanMode) String() string {
	if m == scanDelete {
		return "deleteDocuments"
	}
	return "findDocuments"
}

// scanParams are the arguments shared by FindDocuments and DeleteDocuments. An empty index
// name selects a collection scan in insertion order.
type scanParams struct {
	ns        domain.Namespace
	indexName string
	dir       domain.ScanDirection
	startKey  bson.D
	bound     domain.BoundInclusion
	limit     int
}

// FindDocuments returns up to limit documents of ns in the order of the named index, or in
// insertion order when indexName is empty. A start key is matched against the index key
// values in order; its field names are ignored. Running off the end of the collection is not
// an error.
func (si *StorageInterface) FindDocuments(opCtx *storage.OperationContext, ns domain.Namespace, indexName string,
	dir domain.ScanDirection, startKey bson.D, bound domain.BoundInclusion, limit int) ([]domain.Document, error) {
	return si.scan(opCtx, scanParams{ns: ns, indexName: indexName, dir: dir, startKey: startKey, bound: bound, limit: limit}, scanFind)
}

// DeleteDocuments scans like FindDocuments and removes every document it visits, all in one
// unit of work. It returns the removed documents in visit order.
func (si *StorageInterface) DeleteDocuments(opCtx *storage.OperationContext, ns domain.Namespace, indexName string,
	dir domain.ScanDirection, startKey bson.D, bound domain.BoundInclusion, limit int) ([]domain.Document, error) {
	return si.scan(opCtx, scanParams{ns: ns, indexName: indexName, dir: dir, startKey: startKey, bound: bound, limit: limit}, scanDelete)
}

func (si *StorageInterface) scan(opCtx *storage.OperationContext, p scanParams, mode scanMode) ([]domain.Document, error) {
	if p.limit < 0 {
		return nil, domain.NewStatus(domain.CodeBadValue, "limit must not be negative, got %d", p.limit)
	}
	if p.limit == 0 {
		return []domain.Document{}, nil
	}
	si.logger.Debug("bounded scan",
		"op", mode.String(), "ns", p.ns.String(), "index", p.indexName, "direction", p.dir.String(),
		"bound", p.bound.String(), "limit", p.limit)

	var docs []domain.Document
	err := WriteConflictRetry(opCtx, mode.String(), p.ns, func() error {
		docs = make([]domain.Document, 0, min(p.limit, 64))

		var wunit *storage.WriteUnitOfWork
		if mode == scanDelete {
			wunit = storage.BeginWriteUnitOfWork(opCtx)
			defer wunit.Close()
		}

		coll, err := si.engine.LookupCollection(p.ns)
		if err != nil {
			return err
		}
		cur, err := openScanCursor(coll, p)
		if err != nil {
			return err
		}
		for len(docs) < p.limit {
			rec, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if mode == scanDelete {
				if _, err := coll.DeleteRecord(opCtx, rec.ID); err != nil {
					return err
				}
			}
			docs = append(docs, rec.Doc)
		}

		if wunit != nil {
			return wunit.Commit()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// openScanCursor resolves the scan target and positions a cursor at the first admitted key.
func openScanCursor(coll *storage.Collection, p scanParams) (storage.Cursor, error) {
	if p.indexName == "" {
		if len(p.startKey) > 0 {
			return nil, domain.NewStatus(domain.CodeNoSuchKey,
				"non-empty start key %v is not allowed for a collection scan on %s", p.startKey, p.ns)
		}
		if p.bound != domain.IncludeStartKeyOnly {
			return nil, domain.NewStatus(domain.CodeInvalidOptions,
				"bound inclusion must be %s for a collection scan on %s, got %s",
				domain.IncludeStartKeyOnly, p.ns, p.bound)
		}
		return coll.RecordCursor(p.dir), nil
	}

	spec, ok := coll.FindIndexByName(p.indexName, false)
	if !ok {
		return nil, domain.NewStatus(domain.CodeIndexNotFound, "Index not found, ns:%s, index: %s", p.ns, p.indexName)
	}
	if spec.IsPartial() {
		return nil, domain.NewStatus(domain.CodeIndexOptionsConflict,
			"partial index is not allowed for this operation. ns:%s, index: %s", p.ns, p.indexName)
	}
	cur, err := coll.IndexCursor(p.indexName, p.dir)
	if err != nil {
		return nil, err
	}
	if len(p.startKey) > 0 {
		cur.Seek(indexing.KeyFromDocument(p.startKey), p.bound.IncludesStart())
	}
	return cur, nil
}
