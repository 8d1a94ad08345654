package repl

import (
	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
)

// OplogIterator walks a collection newest first, the way rollback reads the local oplog.
// Unlike a bounded scan it reports exhaustion as CollectionIsEmpty.
type OplogIterator struct {
	ns  domain.Namespace
	cur *storage.RecordCursor
}

// NewOplogIterator opens an iterator over ns in reverse insertion order.
func (si *StorageInterface) NewOplogIterator(ns domain.Namespace) (*OplogIterator, error) {
	coll, err := si.engine.LookupCollection(ns)
	if err != nil {
		return nil, err
	}
	return &OplogIterator{ns: ns, cur: coll.RecordCursor(domain.Backward)}, nil
}

// Next returns the next document and its record id.
func (it *OplogIterator) Next() (domain.Record, error) {
	rec, ok, err := it.cur.Next()
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, domain.NewStatus(domain.CodeCollectionIsEmpty, "no more documents in %s", it.ns)
	}
	return rec, nil
}
