package storage

import (
	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/indexing"
)

// Cursor yields records one at a time. Each step takes the engine lock on its own, so the
// collection may be written between calls; records removed in between are skipped.
type Cursor interface {
	Next() (domain.Record, bool, error)
}

// RecordCursor walks a collection in insertion (record id) order.
type RecordCursor struct {
	coll    *Collection
	dir     domain.ScanDirection
	last    domain.RecordID
	started bool
}

// RecordCursor opens a natural-order cursor. Forward starts at the oldest record.
func (c *Collection) RecordCursor(dir domain.ScanDirection) *RecordCursor {
	return &RecordCursor{coll: c, dir: dir}
}

// Next returns the next record, or false once the collection is exhausted.
func (rc *RecordCursor) Next() (domain.Record, bool, error) {
	se := rc.coll.engine
	se.mu.RLock()
	var (
		next  record
		found bool
	)
	visit := func(r record) bool {
		if rc.started && r.id == rc.last {
			return true
		}
		next, found = r, true
		return false
	}
	tree := rc.coll.records
	switch {
	case rc.dir != domain.Backward && !rc.started:
		tree.Ascend(visit)
	case rc.dir != domain.Backward:
		tree.AscendGreaterOrEqual(record{id: rc.last}, visit)
	case !rc.started:
		tree.Descend(visit)
	default:
		tree.DescendLessOrEqual(record{id: rc.last}, visit)
	}
	se.mu.RUnlock()

	if !found {
		return domain.Record{}, false, nil
	}
	rc.last, rc.started = next.id, true
	doc, err := decodeRecord(next.raw)
	if err != nil {
		return domain.Record{}, false, err
	}
	return domain.Record{ID: next.id, Doc: doc}, true, nil
}

// IndexCursor walks a ready index in key order and resolves each entry to its record.
type IndexCursor struct {
	coll *Collection
	cur  *indexing.Cursor
}

// IndexCursor opens a cursor over the ready index called name.
func (c *Collection) IndexCursor(name string, dir domain.ScanDirection) (*IndexCursor, error) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	e := c.findIndexLocked(name, false)
	if e == nil {
		return nil, domain.NewStatus(domain.CodeIndexNotFound, "index %s not found on %s", name, c.ns)
	}
	return &IndexCursor{coll: c, cur: e.index.Cursor(dir)}, nil
}

// Seek positions the cursor at key. See indexing.Cursor.Seek.
func (ic *IndexCursor) Seek(key indexing.Key, inclusive bool) {
	ic.cur.Seek(key, inclusive)
}

// Next returns the record behind the next index entry, or false at the end of the index.
func (ic *IndexCursor) Next() (domain.Record, bool, error) {
	se := ic.coll.engine
	for {
		se.mu.RLock()
		entry, ok := ic.cur.Next()
		var rec record
		if ok {
			rec, ok = ic.coll.records.Get(record{id: entry.RID})
			if !ok {
				se.mu.RUnlock()
				continue
			}
		}
		se.mu.RUnlock()

		if !ok {
			return domain.Record{}, false, nil
		}
		doc, err := decodeRecord(rec.raw)
		if err != nil {
			return domain.Record{}, false, err
		}
		return domain.Record{ID: rec.id, Doc: doc}, true, nil
	}
}
