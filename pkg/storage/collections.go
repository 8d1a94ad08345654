package storage

import (
	"sort"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/google/uuid"
)

// CreateCollection creates ns. The database is created implicitly. Unless options say otherwise
// the collection gets a ready _id index.
func (se *StorageEngine) CreateCollection(opCtx *OperationContext, ns domain.Namespace, opts domain.CollectionOptions) (*Collection, error) {
	ru := opCtx.ru
	if err := ru.requireUnit("create a collection"); err != nil {
		return nil, err
	}
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	// An uncommitted create by another unit is a conflict, not an existing collection.
	if holder, ok := se.intents[ns.String()][namespaceIntent]; ok && holder != ru {
		return nil, se.writeConflict("namespace %s is being changed by another operation", ns)
	}
	if se.lookupLocked(ns) != nil {
		return nil, domain.NewStatus(domain.CodeNamespaceExists, "Collection %s already exists", ns)
	}
	if ns.IsOplog() && !opts.Capped {
		return nil, domain.NewStatus(domain.CodeCannotCreateNonCappedOplog, "cannot create a non-capped oplog collection")
	}
	if err := ru.claimNamespace(ns.String()); err != nil {
		return nil, err
	}

	id := uuid.New()
	coll, dbCreated, err := se.createCollectionLocked(ns, id, opts)
	if err != nil {
		return nil, err
	}
	ru.onRollback(func() {
		coll.dropped = true
		db := se.databases[ns.DB]
		delete(db.collections, ns.Coll)
		if dbCreated && len(db.collections) == 0 {
			delete(se.databases, ns.DB)
		}
	})
	ru.logOp(WALOp{Type: WALOpCreateCollection, NS: ns.String(), UUID: id.String(), Options: &opts})

	se.logger.Debug("created collection", "ns", ns.String(), "uuid", id, "capped", opts.Capped)
	return coll, nil
}

// createCollectionLocked adds the catalog entry. Recovery replays through here too.
func (se *StorageEngine) createCollectionLocked(ns domain.Namespace, id uuid.UUID, opts domain.CollectionOptions) (*Collection, bool, error) {
	_, existed := se.databases[ns.DB]
	db := se.databaseLocked(ns.DB)
	coll := newCollection(se, ns, id, opts)
	if autoIndexID(ns, opts) {
		idx, err := coll.buildIndexLocked(domain.IDIndexSpec())
		if err != nil {
			if !existed {
				delete(se.databases, ns.DB)
			}
			return nil, false, err
		}
		coll.indexes = append(coll.indexes, &indexEntry{spec: domain.IDIndexSpec(), index: idx, ready: true})
	}
	db.collections[ns.Coll] = coll
	return coll, !existed, nil
}

func (se *StorageEngine) databaseLocked(name string) *database {
	db, ok := se.databases[name]
	if !ok {
		db = &database{name: name, collections: make(map[string]*Collection)}
		se.databases[name] = db
	}
	return db
}

// autoIndexID decides whether a new collection gets an _id index. By default capped collections
// in the local database go without one.
func autoIndexID(ns domain.Namespace, opts domain.CollectionOptions) bool {
	switch opts.AutoIndexID {
	case domain.AutoIndexYes:
		return true
	case domain.AutoIndexNo:
		return false
	}
	return !(opts.Capped && ns.DB == "local")
}

// DropCollection drops ns if it exists. Dropping a missing collection succeeds and never creates
// its database.
func (se *StorageEngine) DropCollection(opCtx *OperationContext, ns domain.Namespace) error {
	ru := opCtx.ru
	if err := ru.requireUnit("drop a collection"); err != nil {
		return err
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	coll := se.lookupLocked(ns)
	if coll == nil {
		return nil
	}
	if err := ru.claimNamespace(ns.String()); err != nil {
		return err
	}

	db := se.databases[ns.DB]
	delete(db.collections, ns.Coll)
	coll.dropped = true
	ru.onRollback(func() {
		coll.dropped = false
		se.databaseLocked(ns.DB).collections[ns.Coll] = coll
	})
	ru.logOp(WALOp{Type: WALOpDropCollection, NS: ns.String()})

	se.logger.Debug("dropped collection", "ns", ns.String())
	return nil
}

// LookupCollection returns the collection for ns. The reason tells a missing database apart
// from a missing collection.
func (se *StorageEngine) LookupCollection(ns domain.Namespace) (*Collection, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()

	db, ok := se.databases[ns.DB]
	if !ok {
		return nil, domain.NewStatus(domain.CodeNamespaceNotFound, "database %s not found", ns.DB)
	}
	coll, ok := db.collections[ns.Coll]
	if !ok {
		return nil, domain.NewStatus(domain.CodeNamespaceNotFound, "collection %s not found", ns)
	}
	return coll, nil
}

// DatabaseExists reports whether any collection was ever created in name and the database
// is still in the catalog.
func (se *StorageEngine) DatabaseExists(name string) bool {
	se.mu.RLock()
	defer se.mu.RUnlock()
	_, ok := se.databases[name]
	return ok
}

// ListNamespaces returns every collection, sorted.
func (se *StorageEngine) ListNamespaces() []domain.Namespace {
	se.mu.RLock()
	defer se.mu.RUnlock()

	out := se.namespacesLocked()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (se *StorageEngine) lookupLocked(ns domain.Namespace) *Collection {
	db, ok := se.databases[ns.DB]
	if !ok {
		return nil
	}
	return db.collections[ns.Coll]
}
