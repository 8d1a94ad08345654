package repl

import (
	"log/slog"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"github.com/cockroachdb/errors"
)

// StorageInterface is what replication code uses to reach the storage engine: document
// inserts, bounded scans and deletes, collection management, bulk loading and the min-valid
// document. Every write runs inside a unit of work that is retried on write conflicts.
type StorageInterface struct {
	*MinValidStore

	engine     *storage.StorageEngine
	logger     *slog.Logger
	minValidNS domain.Namespace
	oplogSize  int64
}

// New creates a StorageInterface over engine.
func New(engine *storage.StorageEngine, options ...Option) *StorageInterface {
	si := &StorageInterface{
		engine:     engine,
		logger:     slog.Default(),
		minValidNS: domain.MustParseNamespace(DefaultMinValidNamespace),
		oplogSize:  DefaultOplogSize,
	}
	for _, option := range options {
		option(si)
	}
	si.MinValidStore = NewMinValidStore(engine, si.minValidNS, si.logger)
	return si
}

// Engine returns the underlying storage engine.
func (si *StorageInterface) Engine() *storage.StorageEngine { return si.engine }

// NewOperationContext creates an execution context for a caller that has none, such as an
// HTTP request. The caller must Release it.
func (si *StorageInterface) NewOperationContext(name string) *storage.OperationContext {
	return si.engine.NewOperationContext(name)
}

// InsertDocument inserts doc into the existing collection ns.
func (si *StorageInterface) InsertDocument(opCtx *storage.OperationContext, ns domain.Namespace, doc domain.Document) error {
	_, err := si.InsertDocuments(opCtx, ns, []domain.Document{doc})
	return err
}

// InsertDocuments inserts docs, in order, into the existing collection ns. Collections that
// refuse batched inserts get the documents one at a time. When the last document is an oplog
// entry its optime is returned; otherwise the null optime is.
func (si *StorageInterface) InsertDocuments(opCtx *storage.OperationContext, ns domain.Namespace, docs []domain.Document) (domain.OpTime, error) {
	if len(docs) == 0 {
		return domain.NullOpTime, nil
	}
	coll, err := si.engine.LookupCollection(ns)
	if err != nil {
		if errors.Is(err, domain.ErrNamespaceNotFound) {
			return domain.NullOpTime, domain.NewStatus(domain.CodeNamespaceNotFound,
				"The collection must exist before inserting documents, ns:%s", ns)
		}
		return domain.NullOpTime, err
	}
	if _, err := insertBatch(opCtx, coll, docs); err != nil {
		return domain.NullOpTime, err
	}

	ot, err := domain.OpTimeFromDocument(docs[len(docs)-1])
	if err != nil {
		return domain.NullOpTime, nil
	}
	return ot, nil
}

// insertBatch inserts docs in a single unit of work, falling back to one unit per document
// when the collection cannot take them all at once. On error the returned ids are those of
// the leading documents that stayed committed, which is none for a single batch.
func insertBatch(opCtx *storage.OperationContext, coll *storage.Collection, docs []domain.Document) ([]domain.RecordID, error) {
	var rids []domain.RecordID
	err := withWriteUnit(opCtx, "insertDocuments", coll.NS(), func() error {
		var err error
		rids, err = coll.InsertDocuments(opCtx, docs)
		return err
	})
	switch {
	case err == nil:
		return rids, nil
	case domain.CodeOf(err) != domain.CodeOperationCannotBeBatched:
		return nil, err
	}

	rids = make([]domain.RecordID, 0, len(docs))
	for _, doc := range docs {
		var rid domain.RecordID
		err := withWriteUnit(opCtx, "insertDocument", coll.NS(), func() error {
			var err error
			rid, err = coll.InsertDocument(opCtx, doc)
			return err
		})
		if err != nil {
			return rids, err
		}
		rids = append(rids, rid)
	}
	return rids, nil
}

// CreateCollection creates ns with opts. It fails with NamespaceExists if ns is present.
func (si *StorageInterface) CreateCollection(opCtx *storage.OperationContext, ns domain.Namespace, opts domain.CollectionOptions) error {
	return withWriteUnit(opCtx, "createCollection", ns, func() error {
		_, err := si.engine.CreateCollection(opCtx, ns, opts)
		return err
	})
}

// CreateOplog creates ns as a capped collection of the configured oplog size, without an _id
// index.
func (si *StorageInterface) CreateOplog(opCtx *storage.OperationContext, ns domain.Namespace) error {
	opts := domain.CollectionOptions{
		Capped:      true,
		CappedSize:  si.oplogSize,
		AutoIndexID: domain.AutoIndexNo,
	}
	if err := si.CreateCollection(opCtx, ns, opts); err != nil {
		return err
	}
	si.logger.Info("created oplog", "ns", ns.String(), "size", si.oplogSize)
	return nil
}

// DropCollection drops ns. A missing collection or database is not an error.
func (si *StorageInterface) DropCollection(opCtx *storage.OperationContext, ns domain.Namespace) error {
	return withWriteUnit(opCtx, "dropCollection", ns, func() error {
		return si.engine.DropCollection(opCtx, ns)
	})
}

// GetCollectionCount returns the number of documents in ns.
func (si *StorageInterface) GetCollectionCount(opCtx *storage.OperationContext, ns domain.Namespace) (int64, error) {
	coll, err := si.engine.LookupCollection(ns)
	if err != nil {
		return 0, err
	}
	return coll.NumRecords(), nil
}

// GetCollectionSize returns the stored size of the documents in ns.
func (si *StorageInterface) GetCollectionSize(opCtx *storage.OperationContext, ns domain.Namespace) (int64, error) {
	coll, err := si.engine.LookupCollection(ns)
	if err != nil {
		return 0, err
	}
	return coll.DataSize(), nil
}

// ListIndexes describes the indexes of ns, unfinished builds included.
func (si *StorageInterface) ListIndexes(opCtx *storage.OperationContext, ns domain.Namespace) ([]storage.IndexDescriptor, error) {
	coll, err := si.engine.LookupCollection(ns)
	if err != nil {
		return nil, err
	}
	return coll.Indexes(true), nil
}

// Stats returns the engine counters.
func (si *StorageInterface) Stats() storage.StorageStats {
	return si.engine.Stats()
}
