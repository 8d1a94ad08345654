package storage

import (
	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/indexing"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const btreeDegree = 32

// newCollection creates an empty collection with no indexes.
func newCollection(se *StorageEngine, ns domain.Namespace, id uuid.UUID, opts domain.CollectionOptions) *Collection {
	return &Collection{
		engine:  se,
		ns:      ns,
		uuid:    id,
		options: opts,
		records: btree.NewG(btreeDegree, func(a, b record) bool { return a.id < b.id }),
	}
}

// NS returns the collection's namespace.
func (c *Collection) NS() domain.Namespace { return c.ns }

// UUID returns the identifier assigned at creation.
func (c *Collection) UUID() uuid.UUID { return c.uuid }

// Options returns the options the collection was created with.
func (c *Collection) Options() domain.CollectionOptions { return c.options }

// IsCapped reports whether the collection is size-bounded.
func (c *Collection) IsCapped() bool { return c.options.Capped }

// NumRecords returns the number of stored records.
func (c *Collection) NumRecords() int64 {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return int64(c.records.Len())
}

// DataSize returns the encoded size of all stored records in bytes.
func (c *Collection) DataSize() int64 {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return c.dataSize
}

// FindRecord returns the document stored under rid.
func (c *Collection) FindRecord(rid domain.RecordID) (domain.Document, error) {
	c.engine.mu.RLock()
	rec, ok := c.records.Get(record{id: rid})
	c.engine.mu.RUnlock()
	if !ok {
		return nil, domain.NewStatus(domain.CodeNoSuchKey, "record %d not found in %s", rid, c.ns)
	}
	return decodeRecord(rec.raw)
}

// InsertDocuments inserts docs in order and returns their record ids. A capped collection only
// accepts one document per call. On error the caller's unit of work must be rolled back.
func (c *Collection) InsertDocuments(opCtx *OperationContext, docs []domain.Document) ([]domain.RecordID, error) {
	if c.options.Capped && len(docs) > 1 {
		return nil, domain.NewStatus(domain.CodeOperationCannotBeBatched,
			"cannot insert %d documents into capped collection %s in one batch", len(docs), c.ns)
	}
	ru := opCtx.ru
	if err := ru.requireUnit("insert documents"); err != nil {
		return nil, err
	}

	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := c.checkLiveLocked(); err != nil {
		return nil, err
	}

	rids := make([]domain.RecordID, 0, len(docs))
	for _, doc := range docs {
		rid, err := c.insertLocked(ru, doc)
		if err != nil {
			return nil, err
		}
		rids = append(rids, rid)
	}
	return rids, nil
}

// InsertDocument inserts a single document.
func (c *Collection) InsertDocument(opCtx *OperationContext, doc domain.Document) (domain.RecordID, error) {
	rids, err := c.InsertDocuments(opCtx, []domain.Document{doc})
	if err != nil {
		return 0, err
	}
	return rids[0], nil
}

// UpdateRecord replaces the document stored under rid.
func (c *Collection) UpdateRecord(opCtx *OperationContext, rid domain.RecordID, doc domain.Document) error {
	ru := opCtx.ru
	if err := ru.requireUnit("update a record"); err != nil {
		return err
	}

	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := c.checkLiveLocked(); err != nil {
		return err
	}
	return c.updateLocked(ru, rid, doc)
}

// DeleteRecord removes the record stored under rid and returns its document.
func (c *Collection) DeleteRecord(opCtx *OperationContext, rid domain.RecordID) (domain.Document, error) {
	ru := opCtx.ru
	if err := ru.requireUnit("delete a record"); err != nil {
		return nil, err
	}

	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := c.checkLiveLocked(); err != nil {
		return nil, err
	}
	return c.deleteLocked(ru, rid)
}

func (c *Collection) checkLiveLocked() error {
	if c.dropped {
		return domain.NewStatus(domain.CodeNamespaceNotFound, "collection %s was dropped", c.ns)
	}
	return nil
}

// requiresIDLocked reports whether documents must carry an _id. A building _id index counts.
func (c *Collection) requiresIDLocked() bool {
	return c.findIndexLocked(domain.IDIndexName, true) != nil
}

func (c *Collection) insertLocked(ru *RecoveryUnit, doc domain.Document) (domain.RecordID, error) {
	if !domain.HasID(doc) && c.requiresIDLocked() {
		return 0, domain.NewStatus(domain.CodeInternalError, "Collection::insertDocument got document without _id")
	}
	raw, err := encodeDocument(doc)
	if err != nil {
		return 0, err
	}

	rid := c.nextRID + 1
	if err := ru.claimRecord(c.ns.String(), rid); err != nil {
		return 0, err
	}
	keys, err := c.indexRecordLocked(doc, rid)
	if err != nil {
		return 0, err
	}
	c.nextRID = rid
	c.putRecordLocked(record{id: rid, raw: raw})

	ru.onRollback(func() {
		removeKeys(keys, rid)
		c.removeRecordLocked(rid)
	})
	ru.logOp(WALOp{Type: WALOpInsert, NS: c.ns.String(), RID: int64(rid), Doc: raw})

	if c.options.Capped {
		if err := c.evictLocked(ru, rid); err != nil {
			return 0, err
		}
	}
	return rid, nil
}

func (c *Collection) updateLocked(ru *RecoveryUnit, rid domain.RecordID, doc domain.Document) error {
	old, ok := c.records.Get(record{id: rid})
	if !ok {
		return domain.NewStatus(domain.CodeNoSuchKey, "record %d not found in %s", rid, c.ns)
	}
	if !domain.HasID(doc) && c.requiresIDLocked() {
		return domain.NewStatus(domain.CodeInternalError, "Collection::updateDocument got document without _id")
	}
	if err := ru.claimRecord(c.ns.String(), rid); err != nil {
		return err
	}
	oldDoc, err := decodeRecord(old.raw)
	if err != nil {
		return err
	}
	raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	removed := c.unindexRecordLocked(oldDoc, rid)
	added, err := c.indexRecordLocked(doc, rid)
	if err != nil {
		restoreKeys(removed, rid)
		return err
	}
	c.putRecordLocked(record{id: rid, raw: raw})

	ru.onRollback(func() {
		removeKeys(added, rid)
		restoreKeys(removed, rid)
		c.putRecordLocked(old)
	})
	ru.logOp(WALOp{Type: WALOpUpdate, NS: c.ns.String(), RID: int64(rid), Doc: raw})
	return nil
}

func (c *Collection) deleteLocked(ru *RecoveryUnit, rid domain.RecordID) (domain.Document, error) {
	rec, ok := c.records.Get(record{id: rid})
	if !ok {
		return nil, domain.NewStatus(domain.CodeNoSuchKey, "record %d not found in %s", rid, c.ns)
	}
	if err := ru.claimRecord(c.ns.String(), rid); err != nil {
		return nil, err
	}
	doc, err := decodeRecord(rec.raw)
	if err != nil {
		return nil, err
	}

	removed := c.unindexRecordLocked(doc, rid)
	c.removeRecordLocked(rid)

	ru.onRollback(func() {
		c.putRecordLocked(rec)
		restoreKeys(removed, rid)
	})
	ru.logOp(WALOp{Type: WALOpDelete, NS: c.ns.String(), RID: int64(rid)})
	return doc, nil
}

// evictLocked deletes the oldest records until the collection is back within its caps. The
// record just inserted is never evicted.
func (c *Collection) evictLocked(ru *RecoveryUnit, newest domain.RecordID) error {
	for c.overCapLocked() {
		oldest, ok := c.records.Min()
		if !ok || oldest.id == newest {
			return nil
		}
		if _, err := c.deleteLocked(ru, oldest.id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) overCapLocked() bool {
	if c.options.CappedSize > 0 && c.dataSize > c.options.CappedSize {
		return true
	}
	return c.options.CappedMaxDocs > 0 && int64(c.records.Len()) > c.options.CappedMaxDocs
}

func (c *Collection) putRecordLocked(rec record) {
	if old, replaced := c.records.ReplaceOrInsert(rec); replaced {
		c.dataSize -= int64(len(old.raw))
	}
	c.dataSize += int64(len(rec.raw))
}

func (c *Collection) removeRecordLocked(rid domain.RecordID) {
	if old, ok := c.records.Delete(record{id: rid}); ok {
		c.dataSize -= int64(len(old.raw))
	}
}

// indexedKey is one key a write placed in (or took out of) an index.
type indexedKey struct {
	idx *indexing.Index
	key indexing.Key
}

// indexRecordLocked adds doc to every ready index. On a duplicate key nothing is left behind.
func (c *Collection) indexRecordLocked(doc domain.Document, rid domain.RecordID) ([]indexedKey, error) {
	var added []indexedKey
	for _, e := range c.indexes {
		if !e.ready {
			continue
		}
		if e.spec.IsPartial() && !indexing.Matches(e.spec.PartialFilterExpression, doc) {
			continue
		}
		key := e.index.Pattern.ExtractKey(doc)
		if err := e.index.Insert(key, rid); err != nil {
			removeKeys(added, rid)
			return nil, err
		}
		added = append(added, indexedKey{idx: e.index, key: key})
	}
	return added, nil
}

func (c *Collection) unindexRecordLocked(doc domain.Document, rid domain.RecordID) []indexedKey {
	var removed []indexedKey
	for _, e := range c.indexes {
		if !e.ready {
			continue
		}
		key := e.index.Pattern.ExtractKey(doc)
		if e.index.Remove(key, rid) {
			removed = append(removed, indexedKey{idx: e.index, key: key})
		}
	}
	return removed
}

func removeKeys(keys []indexedKey, rid domain.RecordID) {
	for _, k := range keys {
		k.idx.Remove(k.key, rid)
	}
}

// restoreKeys puts back keys removed earlier in the same unit; the slots were held by its intents.
func restoreKeys(keys []indexedKey, rid domain.RecordID) {
	for _, k := range keys {
		_ = k.idx.Insert(k.key, rid)
	}
}

func encodeDocument(doc domain.Document) (bson.Raw, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, domain.NewStatus(domain.CodeBadValue, "cannot encode document: %v", err)
	}
	return raw, nil
}

func decodeRecord(raw bson.Raw) (domain.Document, error) {
	var doc domain.Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode record")
	}
	return doc, nil
}
