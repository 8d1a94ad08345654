package indexing

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/adfharrison1/go-db-repl/pkg/domain"
)

// BulkBuilder collects index entries in arrival order and builds a complete index in one pass.
// Uniqueness is only checked by Build.
type BulkBuilder struct {
	spec    domain.IndexSpec
	pattern KeyPattern
	entries []Entry
}

// NewBulkBuilder creates a builder for spec.
func NewBulkBuilder(spec domain.IndexSpec) (*BulkBuilder, error) {
	kp, err := ParseKeyPattern(spec.Key)
	if err != nil {
		return nil, err
	}
	return &BulkBuilder{spec: spec, pattern: kp}, nil
}

// Spec returns the spec being built.
func (b *BulkBuilder) Spec() domain.IndexSpec { return b.spec }

// Pattern returns the parsed key pattern.
func (b *BulkBuilder) Pattern() KeyPattern { return b.pattern }

// Add records the key of one document.
func (b *BulkBuilder) Add(key Key, rid domain.RecordID) {
	b.entries = append(b.entries, Entry{Key: key, RID: rid})
}

// AddDocument extracts the key of doc and records it, honouring a partial filter.
func (b *BulkBuilder) AddDocument(doc domain.Document, rid domain.RecordID) {
	if b.spec.IsPartial() && !Matches(b.spec.PartialFilterExpression, doc) {
		return
	}
	b.Add(b.pattern.ExtractKey(doc), rid)
}

// Len returns the number of collected entries.
func (b *BulkBuilder) Len() int { return len(b.entries) }

// Build sorts the collected entries, drops those whose record is in exclude, and loads them
// into a new index. A unique index fails with DuplicateKey if two records share a key.
func (b *BulkBuilder) Build(exclude *roaring64.Bitmap) (*Index, error) {
	idx, err := NewIndex(b.spec)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if exclude != nil && exclude.Contains(uint64(e.RID)) {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(x, y Entry) int {
		if c := idx.Pattern.Compare(x.Key, y.Key); c != 0 {
			return c
		}
		return cmpInt(int64(x.RID), int64(y.RID))
	})
	for i, e := range entries {
		if idx.Unique && i > 0 && idx.Pattern.Compare(entries[i-1].Key, e.Key) == 0 && entries[i-1].RID != e.RID {
			return nil, domain.NewStatus(domain.CodeDuplicateKey,
				"E11000 duplicate key error index: %s dup key: %s", idx.Name, e.Key)
		}
		idx.tree.ReplaceOrInsert(e)
	}
	return idx, nil
}
