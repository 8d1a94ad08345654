package repl

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/indexing"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"golang.org/x/sync/errgroup"
)

// BulkLoadState is where a bulk load is in its lifecycle.
type BulkLoadState int

const (
	BulkLoadBuilding BulkLoadState = iota
	BulkLoadCommitted
	BulkLoadAbandoned
)

func (s BulkLoadState) String() string {
	switch s {
	case BulkLoadBuilding:
		return "building"
	case BulkLoadCommitted:
		return "committed"
	case BulkLoadAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// idSlot remembers which record currently owns an _id value.
type idSlot struct {
	id  any
	rid domain.RecordID
}

// CollectionBulkLoader fills a freshly created collection and builds its indexes once at the
// end. Documents are stored as they arrive; the _id index and the secondary indexes are
// registered but unfinished until Commit. If two documents share an _id, the later one wins.
//
// A loader has a single owner. Commit and Close are terminal; Close may be called from any
// goroutine and is a no-op after Commit.
type CollectionBulkLoader struct {
	mu     sync.Mutex
	engine *storage.StorageEngine
	opCtx  *storage.OperationContext
	ns     domain.Namespace
	coll   *storage.Collection
	logger *slog.Logger

	idBuilder *storage.IndexBuilder
	builders  []*storage.IndexBuilder // id builder first when present

	ids        *btree.BTreeG[idSlot]
	inserted   *roaring64.Bitmap
	superseded *roaring64.Bitmap
	state      BulkLoadState
}

// CreateCollectionForBulkLoading creates ns and starts a build for idIndexSpec (skipped when
// its name is empty) and each secondary spec. It fails if ns already exists.
func (si *StorageInterface) CreateCollectionForBulkLoading(ns domain.Namespace, opts domain.CollectionOptions,
	idIndexSpec domain.IndexSpec, secondaryIndexSpecs []domain.IndexSpec) (*CollectionBulkLoader, error) {
	opCtx := si.engine.NewOperationContext("bulk-loader " + ns.String())
	l := &CollectionBulkLoader{
		engine: si.engine,
		opCtx:  opCtx,
		ns:     ns,
		logger: si.logger,
		ids: btree.NewG(32, func(a, b idSlot) bool {
			return indexing.Compare(a.id, b.id) < 0
		}),
		inserted:   roaring64.New(),
		superseded: roaring64.New(),
	}

	// The loader builds the _id index itself.
	opts.AutoIndexID = domain.AutoIndexNo
	err := withWriteUnit(opCtx, "beginBulkLoad", ns, func() error {
		l.idBuilder, l.builders = nil, nil
		coll, err := si.engine.CreateCollection(opCtx, ns, opts)
		if err != nil {
			return err
		}
		l.coll = coll
		if idIndexSpec.Name != "" {
			b, err := coll.StartIndexBuild(opCtx, idIndexSpec)
			if err != nil {
				return err
			}
			l.idBuilder = b
			l.builders = append(l.builders, b)
		}
		for _, spec := range secondaryIndexSpecs {
			b, err := coll.StartIndexBuild(opCtx, spec)
			if err != nil {
				return err
			}
			l.builders = append(l.builders, b)
		}
		return nil
	})
	if err != nil {
		opCtx.Release()
		return nil, err
	}

	si.logger.Info("bulk load started", "ns", ns.String(), "indexes", len(l.builders))
	return l, nil
}

// NS returns the collection being loaded.
func (l *CollectionBulkLoader) NS() domain.Namespace { return l.ns }

// State returns the lifecycle state.
func (l *CollectionBulkLoader) State() BulkLoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// InsertDocuments stores docs in order and hands them to the index builds.
func (l *CollectionBulkLoader) InsertDocuments(docs []domain.Document) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != BulkLoadBuilding {
		return errors.AssertionFailedf("insert into a %s bulk load of %s", l.state, l.ns)
	}
	if len(docs) == 0 {
		return nil
	}

	// Every stored document reaches the builders, including those committed before a failure.
	rids, err := insertBatch(l.opCtx, l.coll, docs)
	for i, rid := range rids {
		doc := docs[i]
		l.inserted.Add(uint64(rid))
		for _, b := range l.builders {
			b.Add(doc, rid)
		}
		if l.idBuilder == nil {
			continue
		}
		id, _ := domain.Lookup(doc, domain.IDField)
		if prev, replaced := l.ids.ReplaceOrInsert(idSlot{id: id, rid: rid}); replaced {
			l.superseded.Add(uint64(prev.rid))
		}
	}
	return err
}

// Commit removes documents whose _id was written again later, builds every index and makes
// them all ready in one unit of work. If it fails no index becomes ready and the loader can
// still be closed.
func (l *CollectionBulkLoader) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != BulkLoadBuilding {
		return errors.AssertionFailedf("commit of a %s bulk load of %s", l.state, l.ns)
	}

	exclude, err := l.excludedRecords()
	if err != nil {
		return err
	}
	prepared, err := l.prepareIndexes(exclude)
	if err != nil {
		return errors.Wrapf(err, "failed to build indexes for %s", l.ns)
	}

	err = withWriteUnit(l.opCtx, "bulkLoaderCommit", l.ns, func() error {
		it := l.superseded.Iterator()
		for it.HasNext() {
			rid := domain.RecordID(it.Next())
			if _, err := l.coll.DeleteRecord(l.opCtx, rid); err != nil && domain.CodeOf(err) != domain.CodeNoSuchKey {
				return err
			}
		}
		for i, b := range l.builders {
			if err := b.Install(l.opCtx, prepared[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to commit bulk load of %s", l.ns)
	}

	l.state = BulkLoadCommitted
	l.opCtx.Release()
	l.logger.Info("bulk load committed",
		"ns", l.ns.String(), "records", l.coll.NumRecords(), "duplicates_removed", l.superseded.GetCardinality(),
		"indexes", len(l.builders))
	return nil
}

// excludedRecords is every loaded record that must not reach an index: superseded duplicates
// and records a capped collection has already evicted.
func (l *CollectionBulkLoader) excludedRecords() (*roaring64.Bitmap, error) {
	exclude := l.superseded.Clone()
	it := l.inserted.Iterator()
	for it.HasNext() {
		rid := domain.RecordID(it.Next())
		if exclude.Contains(uint64(rid)) {
			continue
		}
		if _, err := l.coll.FindRecord(rid); err != nil {
			if domain.CodeOf(err) != domain.CodeNoSuchKey {
				return nil, err
			}
			exclude.Add(uint64(rid))
		}
	}
	return exclude, nil
}

// prepareIndexes builds all indexes concurrently, outside the engine lock.
func (l *CollectionBulkLoader) prepareIndexes(exclude *roaring64.Bitmap) ([]*indexing.Index, error) {
	prepared := make([]*indexing.Index, len(l.builders))
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, b := range l.builders {
		g.Go(func() error {
			idx, err := b.Prepare(exclude)
			if err != nil {
				return errors.Wrapf(err, "index %s", b.Spec().Name)
			}
			prepared[i] = idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prepared, nil
}

// Close abandons an uncommitted load: every unfinished index is dropped while the collection
// and its documents stay. It opens its own operation context, so the calling goroutine needs
// no setup. Closing a committed or already abandoned loader does nothing.
func (l *CollectionBulkLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != BulkLoadBuilding {
		return nil
	}

	opCtx := l.engine.NewOperationContext("bulk-loader-cleanup")
	defer opCtx.Release()
	err := withWriteUnit(opCtx, "bulkLoaderAbandon", l.ns, func() error {
		for _, b := range l.builders {
			if err := b.Abort(opCtx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to abandon bulk load of %s", l.ns)
	}

	l.state = BulkLoadAbandoned
	l.opCtx.Release()
	l.logger.Warn("bulk load abandoned", "ns", l.ns.String(), "dropped_index_builds", len(l.builders))
	return nil
}
