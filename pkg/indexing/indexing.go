package indexing

import (
	"math"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/google/btree"
)

const btreeDegree = 32

const (
	minRecordID = domain.RecordID(math.MinInt64)
	maxRecordID = domain.RecordID(math.MaxInt64)
)

// Entry is a single (key, record) pair stored in an index.
type Entry struct {
	Key Key
	RID domain.RecordID
}

// Index is an ordered index over (key, record id) entries. It is not safe for concurrent use;
// the owning collection serialises access.
type Index struct {
	Name    string
	Pattern KeyPattern
	Unique  bool
	tree    *btree.BTreeG[Entry]
}

// NewIndex creates an empty index for the given spec.
func NewIndex(spec domain.IndexSpec) (*Index, error) {
	kp, err := ParseKeyPattern(spec.Key)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		Name:    spec.Name,
		Pattern: kp,
		Unique:  spec.Unique,
	}
	idx.tree = btree.NewG(btreeDegree, idx.less)
	return idx, nil
}

func (idx *Index) less(a, b Entry) bool {
	if c := idx.Pattern.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.RID < b.RID
}

// Insert adds an entry. Unique indexes reject a second record for an equal key.
func (idx *Index) Insert(key Key, rid domain.RecordID) error {
	if idx.Unique {
		if other, found := idx.findEqual(key); found && other != rid {
			return domain.NewStatus(domain.CodeDuplicateKey,
				"E11000 duplicate key error index: %s dup key: %s", idx.Name, key)
		}
	}
	idx.tree.ReplaceOrInsert(Entry{Key: key, RID: rid})
	return nil
}

// Remove deletes an entry, reporting whether it was present.
func (idx *Index) Remove(key Key, rid domain.RecordID) bool {
	_, ok := idx.tree.Delete(Entry{Key: key, RID: rid})
	return ok
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return idx.tree.Len()
}

// Clear drops every entry.
func (idx *Index) Clear() {
	idx.tree.Clear(false)
}

// Entries returns all entries in index order.
func (idx *Index) Entries() []Entry {
	out := make([]Entry, 0, idx.tree.Len())
	idx.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (idx *Index) findEqual(key Key) (domain.RecordID, bool) {
	var (
		rid   domain.RecordID
		found bool
	)
	idx.tree.AscendGreaterOrEqual(Entry{Key: key, RID: minRecordID}, func(e Entry) bool {
		if idx.Pattern.Compare(e.Key, key) == 0 {
			rid, found = e.RID, true
		}
		return false
	})
	return rid, found
}

// Cursor walks an index in one direction. Each step re-seeks from the last returned entry,
// so the index may be modified between calls to Next.
type Cursor struct {
	idx       *Index
	dir       domain.ScanDirection
	pos       Entry
	hasPos    bool
	inclusive bool
}

// Cursor opens a cursor positioned at the natural origin for dir.
func (idx *Index) Cursor(dir domain.ScanDirection) *Cursor {
	return &Cursor{idx: idx, dir: dir}
}

// Seek positions the cursor so that the next entry is the first one at or past key in the
// cursor's direction. With inclusive false, entries equal to key are skipped. A key shorter than
// the pattern matches every completion of its prefix.
func (c *Cursor) Seek(key Key, inclusive bool) {
	kp := c.idx.Pattern
	forward := c.dir != domain.Backward
	c.hasPos = true
	c.inclusive = inclusive
	switch {
	case forward && inclusive:
		c.pos = Entry{Key: kp.pad(key, lowest), RID: minRecordID}
	case forward:
		c.pos = Entry{Key: kp.pad(key, highest), RID: maxRecordID}
	case inclusive:
		c.pos = Entry{Key: kp.pad(key, highest), RID: maxRecordID}
	default:
		c.pos = Entry{Key: kp.pad(key, lowest), RID: minRecordID}
	}
}

// SeekEnd rewinds the cursor to the natural origin for its direction.
func (c *Cursor) SeekEnd() {
	c.hasPos = false
}

// Next returns the next entry, or false at the end of the index.
func (c *Cursor) Next() (Entry, bool) {
	var (
		next  Entry
		found bool
	)
	visit := func(e Entry) bool {
		if c.hasPos && !c.inclusive && !c.idx.less(c.pos, e) && !c.idx.less(e, c.pos) {
			return true
		}
		next, found = e, true
		return false
	}

	tree := c.idx.tree
	switch {
	case c.dir != domain.Backward && !c.hasPos:
		tree.Ascend(visit)
	case c.dir != domain.Backward:
		tree.AscendGreaterOrEqual(c.pos, visit)
	case !c.hasPos:
		tree.Descend(visit)
	default:
		tree.DescendLessOrEqual(c.pos, visit)
	}
	if !found {
		return Entry{}, false
	}
	c.pos, c.hasPos, c.inclusive = next, true, false
	return next, true
}
