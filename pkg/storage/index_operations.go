package storage

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/indexing"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// IndexDescriptor is the catalog view of one index.
type IndexDescriptor struct {
	Spec    domain.IndexSpec `json:"spec"`
	Ready   bool             `json:"ready"`
	Entries int              `json:"entries"`
}

// FindIndexByName looks an index up by name. Unfinished builds are only returned when
// includeUnfinished is set.
func (c *Collection) FindIndexByName(name string, includeUnfinished bool) (domain.IndexSpec, bool) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	e := c.findIndexLocked(name, includeUnfinished)
	if e == nil {
		return domain.IndexSpec{}, false
	}
	return e.spec, true
}

// Indexes lists the catalog in creation order.
func (c *Collection) Indexes(includeUnfinished bool) []IndexDescriptor {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	out := make([]IndexDescriptor, 0, len(c.indexes))
	for _, e := range c.indexes {
		if !e.ready && !includeUnfinished {
			continue
		}
		d := IndexDescriptor{Spec: e.spec, Ready: e.ready}
		if e.ready {
			d.Entries = e.index.Len()
		}
		out = append(out, d)
	}
	return out
}

// NumIndexesTotal counts ready and in-progress indexes.
func (c *Collection) NumIndexesTotal() int {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return len(c.indexes)
}

// NumIndexesReady counts indexes usable by readers.
func (c *Collection) NumIndexesReady() int {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	n := 0
	for _, e := range c.indexes {
		if e.ready {
			n++
		}
	}
	return n
}

func (c *Collection) findIndexLocked(name string, includeUnfinished bool) *indexEntry {
	for _, e := range c.indexes {
		if e.spec.Name == name && (e.ready || includeUnfinished) {
			return e
		}
	}
	return nil
}

// checkNewIndexLocked rejects a spec whose name is already taken.
func (c *Collection) checkNewIndexLocked(spec domain.IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	existing := c.findIndexLocked(spec.Name, true)
	if existing == nil {
		return nil
	}
	if sameIndexSpec(existing.spec, spec) {
		return domain.NewStatus(domain.CodeIndexAlreadyExists, "index %s already exists on %s", spec.Name, c.ns)
	}
	return domain.NewStatus(domain.CodeIndexOptionsConflict,
		"index %s already exists on %s with different options", spec.Name, c.ns)
}

func sameIndexSpec(a, b domain.IndexSpec) bool {
	ra, errA := bson.Marshal(a.ToBSON())
	rb, errB := bson.Marshal(b.ToBSON())
	return errA == nil && errB == nil && slices.Equal(ra, rb)
}

// buildIndexLocked builds a complete index over the current records.
func (c *Collection) buildIndexLocked(spec domain.IndexSpec) (*indexing.Index, error) {
	bb, err := indexing.NewBulkBuilder(spec)
	if err != nil {
		return nil, err
	}
	var decodeErr error
	c.records.Ascend(func(r record) bool {
		doc, err := decodeRecord(r.raw)
		if err != nil {
			decodeErr = err
			return false
		}
		bb.AddDocument(doc, r.id)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return bb.Build(nil)
}

func (c *Collection) removeIndexEntryLocked(e *indexEntry) int {
	pos := slices.Index(c.indexes, e)
	if pos >= 0 {
		c.indexes = slices.Delete(c.indexes, pos, pos+1)
	}
	return pos
}

func (c *Collection) restoreIndexEntryLocked(e *indexEntry, pos int) {
	if pos < 0 || pos > len(c.indexes) {
		pos = len(c.indexes)
	}
	c.indexes = slices.Insert(c.indexes, pos, e)
}

func encodeIndexSpec(spec domain.IndexSpec) []byte {
	raw, err := bson.Marshal(spec.ToBSON())
	if err != nil {
		return nil
	}
	return raw
}

func decodeIndexSpec(raw []byte) (domain.IndexSpec, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return domain.IndexSpec{}, errors.Wrap(err, "failed to decode index spec")
	}
	return domain.IndexSpecFromBSON(d)
}

// CreateIndex builds spec over the existing records and makes it ready in one step.
func (c *Collection) CreateIndex(opCtx *OperationContext, spec domain.IndexSpec) error {
	ru := opCtx.ru
	if err := ru.requireUnit("create an index"); err != nil {
		return err
	}

	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := c.checkLiveLocked(); err != nil {
		return err
	}
	if err := c.checkNewIndexLocked(spec); err != nil {
		return err
	}
	if err := ru.claimNamespace(c.ns.String()); err != nil {
		return err
	}
	idx, err := c.buildIndexLocked(spec)
	if err != nil {
		return err
	}

	e := &indexEntry{spec: spec, index: idx, ready: true}
	c.indexes = append(c.indexes, e)
	ru.onRollback(func() { c.removeIndexEntryLocked(e) })
	ru.logOp(WALOp{Type: WALOpCreateIndex, NS: c.ns.String(), Doc: encodeIndexSpec(spec)})
	return nil
}

// DropIndex removes a ready index. The _id index cannot be dropped.
func (c *Collection) DropIndex(opCtx *OperationContext, name string) error {
	ru := opCtx.ru
	if err := ru.requireUnit("drop an index"); err != nil {
		return err
	}

	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := c.checkLiveLocked(); err != nil {
		return err
	}
	e := c.findIndexLocked(name, false)
	if e == nil {
		return domain.NewStatus(domain.CodeIndexNotFound, "index %s not found on %s", name, c.ns)
	}
	if e.spec.IsIDIndex() {
		return domain.NewStatus(domain.CodeIllegalOperation, "cannot drop _id index on %s", c.ns)
	}
	if err := ru.claimNamespace(c.ns.String()); err != nil {
		return err
	}
	pos := c.removeIndexEntryLocked(e)
	ru.onRollback(func() { c.restoreIndexEntryLocked(e, pos) })
	ru.logOp(WALOp{Type: WALOpDropIndex, NS: c.ns.String(), Index: name})
	return nil
}

// IndexBuildState tracks a two-phase index build.
type IndexBuildState int

const (
	IndexBuildBuilding IndexBuildState = iota
	IndexBuildCommitted
	IndexBuildAborted
)

func (s IndexBuildState) String() string {
	switch s {
	case IndexBuildBuilding:
		return "building"
	case IndexBuildCommitted:
		return "committed"
	case IndexBuildAborted:
		return "aborted"
	}
	return "unknown"
}

// IndexBuilder is an index registered in the catalog but not yet usable. Its owner feeds it
// documents, prepares the finished index outside the engine lock, then installs or aborts it.
// Writes to the collection made while the build runs are not routed to it.
type IndexBuilder struct {
	coll  *Collection
	entry *indexEntry
	bulk  *indexing.BulkBuilder
	state IndexBuildState
}

// StartIndexBuild registers spec as an unfinished index.
func (c *Collection) StartIndexBuild(opCtx *OperationContext, spec domain.IndexSpec) (*IndexBuilder, error) {
	ru := opCtx.ru
	if err := ru.requireUnit("start an index build"); err != nil {
		return nil, err
	}
	bulk, err := indexing.NewBulkBuilder(spec)
	if err != nil {
		return nil, err
	}

	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := c.checkLiveLocked(); err != nil {
		return nil, err
	}
	if err := c.checkNewIndexLocked(spec); err != nil {
		return nil, err
	}
	if err := ru.claimNamespace(c.ns.String()); err != nil {
		return nil, err
	}

	e := &indexEntry{spec: spec}
	c.indexes = append(c.indexes, e)
	b := &IndexBuilder{coll: c, entry: e, bulk: bulk}
	ru.onRollback(func() {
		c.removeIndexEntryLocked(e)
		b.state = IndexBuildAborted
	})
	ru.logOp(WALOp{Type: WALOpStartIndexBuild, NS: c.ns.String(), Doc: encodeIndexSpec(spec)})
	return b, nil
}

// Spec returns the spec being built.
func (b *IndexBuilder) Spec() domain.IndexSpec { return b.entry.spec }

// State returns where the build is in its lifecycle.
func (b *IndexBuilder) State() IndexBuildState { return b.state }

// Add feeds one document to the build.
func (b *IndexBuilder) Add(doc domain.Document, rid domain.RecordID) {
	b.bulk.AddDocument(doc, rid)
}

// Prepare builds the finished index from everything added, leaving out records in exclude.
// It does not touch the catalog and may run concurrently with other builders.
func (b *IndexBuilder) Prepare(exclude *roaring64.Bitmap) (*indexing.Index, error) {
	if b.state != IndexBuildBuilding {
		return nil, errors.AssertionFailedf("prepare called on a %s index build", b.state)
	}
	return b.bulk.Build(exclude)
}

// Install swaps a prepared index into the catalog and marks it ready.
func (b *IndexBuilder) Install(opCtx *OperationContext, idx *indexing.Index) error {
	ru := opCtx.ru
	if err := ru.requireUnit("install an index"); err != nil {
		return err
	}
	if b.state != IndexBuildBuilding {
		return errors.AssertionFailedf("install called on a %s index build", b.state)
	}

	c := b.coll
	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if err := c.checkLiveLocked(); err != nil {
		return err
	}
	e := b.entry
	if !slices.Contains(c.indexes, e) {
		return domain.NewStatus(domain.CodeIndexNotFound, "index build %s on %s is no longer registered", e.spec.Name, c.ns)
	}
	if err := ru.claimNamespace(c.ns.String()); err != nil {
		return err
	}

	e.index, e.ready = idx, true
	b.state = IndexBuildCommitted
	ru.onRollback(func() {
		e.index, e.ready = nil, false
		b.state = IndexBuildBuilding
	})
	ru.logOp(WALOp{Type: WALOpIndexReady, NS: c.ns.String(), Index: e.spec.Name})
	return nil
}

// Abort removes the unfinished index from the catalog. Aborting a finished build is a no-op.
func (b *IndexBuilder) Abort(opCtx *OperationContext) error {
	ru := opCtx.ru
	if err := ru.requireUnit("abort an index build"); err != nil {
		return err
	}
	if b.state != IndexBuildBuilding {
		return nil
	}

	c := b.coll
	se := c.engine
	se.mu.Lock()
	defer se.mu.Unlock()
	if c.dropped {
		b.state = IndexBuildAborted
		return nil
	}
	if err := ru.claimNamespace(c.ns.String()); err != nil {
		return err
	}

	e := b.entry
	pos := c.removeIndexEntryLocked(e)
	b.state = IndexBuildAborted
	ru.onRollback(func() {
		if pos >= 0 {
			c.restoreIndexEntryLocked(e, pos)
		}
		b.state = IndexBuildBuilding
	})
	if pos >= 0 {
		ru.logOp(WALOp{Type: WALOpDropIndex, NS: c.ns.String(), Index: e.spec.Name})
	}
	return nil
}
