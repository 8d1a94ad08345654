package repl

import (
	"io"
	"log/slog"
	"testing"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...storage.StorageOption) *storage.StorageEngine {
	t.Helper()
	opts = append([]storage.StorageOption{storage.WithLogger(discardLogger())}, opts...)
	engine, err := storage.NewStorageEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

// newTestInterface returns a storage interface over a fresh ephemeral engine and an operation
// context for the test to use.
func newTestInterface(t *testing.T, opts ...Option) (*StorageInterface, *storage.OperationContext) {
	t.Helper()
	engine := newTestEngine(t)
	si := New(engine, append([]Option{WithLogger(discardLogger())}, opts...)...)
	opCtx := engine.NewOperationContext("test")
	t.Cleanup(opCtx.Release)
	return si, opCtx
}

func idDocs(ids ...any) []domain.Document {
	docs := make([]domain.Document, len(ids))
	for i, id := range ids {
		docs[i] = domain.Document{{Key: "_id", Value: id}}
	}
	return docs
}

func idsOf(docs []domain.Document) []any {
	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		id, _ := domain.Lookup(doc, "_id")
		out = append(out, id)
	}
	return out
}

// collectionIDs reads ns newest first through the oplog iterator, which must end with
// CollectionIsEmpty.
func collectionIDs(t *testing.T, si *StorageInterface, ns domain.Namespace) []any {
	t.Helper()
	it, err := si.NewOplogIterator(ns)
	require.NoError(t, err)
	var out []any
	for {
		rec, err := it.Next()
		if err != nil {
			require.ErrorIs(t, err, domain.ErrCollectionIsEmpty)
			return out
		}
		id, _ := domain.Lookup(rec.Doc, "_id")
		out = append(out, id)
	}
}

func makeOplogEntry(ot domain.OpTime) domain.Document {
	return domain.Document{
		{Key: "ts", Value: ot.Timestamp},
		{Key: "t", Value: ot.Term},
		{Key: "h", Value: int64(0)},
		{Key: "op", Value: "n"},
		{Key: "ns", Value: "a.a"},
		{Key: "o", Value: bson.D{}},
	}
}

func TestDefaultMinValidNamespace(t *testing.T) {
	si, _ := newTestInterface(t)
	assert.Equal(t, domain.MustParseNamespace(DefaultMinValidNamespace), si.MinValidNamespace())

	custom := domain.MustParseNamespace("local.custom_minvalid")
	si, _ = newTestInterface(t, WithMinValidNamespace(custom))
	assert.Equal(t, custom, si.MinValidNamespace())
}

func TestInsertDocuments(t *testing.T) {
	t.Run("no documents is a no-op", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("local.testNS")
		require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))
		ot, err := si.InsertDocuments(opCtx, ns, nil)
		require.NoError(t, err)
		assert.True(t, ot.IsNull())
	})

	t.Run("missing _id on an _id-indexed collection is an internal error", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("local.testNS")
		require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))

		op := makeOplogEntry(domain.NewOpTime(bson.Timestamp{T: 1}, 1))
		_, err := si.InsertDocuments(opCtx, ns, []domain.Document{op})
		require.ErrorIs(t, err, domain.ErrInternalError)
		assert.Contains(t, domain.ReasonOf(err), "Collection::insertDocument got document without _id")
	})

	t.Run("falls back to one at a time when batching is refused", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("test.capped")
		require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{Capped: true, CappedSize: 1024 * 1024}))
		docs := idDocs(1, 2)

		coll, err := si.Engine().LookupCollection(ns)
		require.NoError(t, err)
		wunit := storage.BeginWriteUnitOfWork(opCtx)
		_, err = coll.InsertDocuments(opCtx, docs)
		wunit.Close()
		require.ErrorIs(t, err, domain.ErrOperationCannotBeBatched)

		_, err = si.InsertDocuments(opCtx, ns, docs)
		require.NoError(t, err)
		assert.Equal(t, []any{int32(2), int32(1)}, collectionIDs(t, si, ns))
	})

	t.Run("returns the optime of the last oplog entry", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("local.oplog.rs")
		require.NoError(t, si.CreateOplog(opCtx, ns))

		op1 := makeOplogEntry(domain.NewOpTime(bson.Timestamp{T: 1}, 1))
		op2 := makeOplogEntry(domain.NewOpTime(bson.Timestamp{T: 1, I: 1}, 1))
		ot, err := si.InsertDocuments(opCtx, ns, []domain.Document{op1, op2})
		require.NoError(t, err)
		assert.Equal(t, domain.NewOpTime(bson.Timestamp{T: 1, I: 1}, 1), ot)

		it, err := si.NewOplogIterator(ns)
		require.NoError(t, err)
		rec, err := it.Next()
		require.NoError(t, err)
		got, err := domain.OpTimeFromDocument(rec.Doc)
		require.NoError(t, err)
		assert.Equal(t, ot, got)
		rec, err = it.Next()
		require.NoError(t, err)
		v, _ := domain.Lookup(rec.Doc, "ts")
		assert.Equal(t, bson.Timestamp{T: 1}, v)
		_, err = it.Next()
		assert.ErrorIs(t, err, domain.ErrCollectionIsEmpty)
	})

	t.Run("plain documents return the null optime", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("test.coll")
		require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))
		ot, err := si.InsertDocuments(opCtx, ns, idDocs(1))
		require.NoError(t, err)
		assert.True(t, ot.IsNull())
	})

	t.Run("missing collection is not created", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("local.oplog.rs")
		_, err := si.InsertDocuments(opCtx, ns, []domain.Document{makeOplogEntry(domain.NewOpTime(bson.Timestamp{T: 1}, 1))})
		require.ErrorIs(t, err, domain.ErrNamespaceNotFound)
		assert.Contains(t, domain.ReasonOf(err), "The collection must exist before inserting documents")
		assert.False(t, si.Engine().DatabaseExists("local"))
	})
}

func TestInsertDocument(t *testing.T) {
	tests := []struct {
		name string
		opts domain.CollectionOptions
	}{
		{name: "capped collection", opts: domain.CollectionOptions{Capped: true, CappedSize: 1024 * 1024}},
		{name: "regular collection", opts: domain.CollectionOptions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			si, opCtx := newTestInterface(t)
			ns := domain.MustParseNamespace("test.coll")
			require.NoError(t, si.CreateCollection(opCtx, ns, tt.opts))
			require.NoError(t, si.InsertDocument(opCtx, ns, domain.Document{{Key: "_id", Value: 1}}))

			count, err := si.GetCollectionCount(opCtx, ns)
			require.NoError(t, err)
			assert.EqualValues(t, 1, count)
		})
	}

	t.Run("missing collection", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		err := si.InsertDocument(opCtx, domain.MustParseNamespace("test.coll"), domain.Document{{Key: "_id", Value: 1}})
		require.Error(t, err)
		assert.Equal(t, domain.CodeNamespaceNotFound, domain.CodeOf(err))
	})
}

func TestInsertDocumentsRetriesWriteConflicts(t *testing.T) {
	si, opCtx := newTestInterface(t)
	ns := domain.MustParseNamespace("test.coll")
	require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))

	si.Engine().InjectWriteConflicts(3)
	_, err := si.InsertDocuments(opCtx, ns, idDocs(1, 2, 3))
	require.NoError(t, err)

	assert.Equal(t, []any{int32(3), int32(2), int32(1)}, collectionIDs(t, si, ns))
	assert.GreaterOrEqual(t, si.Stats().WriteConflicts, int64(3))
}

func TestCreateCollection(t *testing.T) {
	t.Run("already exists", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("test.coll")
		require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))

		coll, err := si.Engine().LookupCollection(ns)
		require.NoError(t, err)
		assert.Equal(t, ns, coll.NS())

		err = si.CreateCollection(opCtx, ns, domain.CollectionOptions{})
		require.ErrorIs(t, err, domain.ErrNamespaceExists)
		assert.Contains(t, domain.ReasonOf(err), "Collection test.coll already exists")
	})

	t.Run("non-capped oplog is rejected", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		err := si.CreateCollection(opCtx, domain.MustParseNamespace("local.oplog.Y"), domain.CollectionOptions{})
		assert.Equal(t, domain.ErrorCode(28838), domain.CodeOf(err))
		assert.Contains(t, domain.ReasonOf(err), "cannot create a non-capped oplog collection")
	})
}

func TestCreateOplog(t *testing.T) {
	si, opCtx := newTestInterface(t, WithOplogSize(2*1024*1024))
	ns := domain.MustParseNamespace("local.oplog.X")
	_, err := si.Engine().LookupCollection(ns)
	require.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	require.NoError(t, si.CreateOplog(opCtx, ns))
	coll, err := si.Engine().LookupCollection(ns)
	require.NoError(t, err)
	assert.Equal(t, "local.oplog.X", coll.NS().String())
	assert.True(t, coll.IsCapped())
	assert.EqualValues(t, 2*1024*1024, coll.Options().CappedSize)
	assert.Equal(t, 0, coll.NumIndexesTotal())

	assert.ErrorIs(t, si.CreateOplog(opCtx, ns), domain.ErrNamespaceExists)
}

func TestDropCollection(t *testing.T) {
	t.Run("with data", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("test.coll")
		require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))
		require.NoError(t, si.InsertDocument(opCtx, ns, domain.Document{{Key: "_id", Value: 1}}))
		require.NoError(t, si.DropCollection(opCtx, ns))
		_, err := si.Engine().LookupCollection(ns)
		assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
	})

	t.Run("empty collection", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("test.coll")
		require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))
		require.NoError(t, si.DropCollection(opCtx, ns))
		_, err := si.Engine().LookupCollection(ns)
		assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
	})

	t.Run("missing collection twice never creates the database", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		ns := domain.MustParseNamespace("nosuchdb.coll")
		require.NoError(t, si.DropCollection(opCtx, ns))
		require.NoError(t, si.DropCollection(opCtx, ns))
		assert.False(t, si.Engine().DatabaseExists("nosuchdb"))
	})
}

func TestGetCollectionCountAndSize(t *testing.T) {
	si, opCtx := newTestInterface(t)
	ns := domain.MustParseNamespace("test.coll")

	_, err := si.GetCollectionCount(opCtx, domain.MustParseNamespace("nosuchdb.coll"))
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
	_, err = si.GetCollectionSize(opCtx, ns)
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))
	wrongColl := domain.NewNamespace("test", "wrongColl")
	_, err = si.GetCollectionCount(opCtx, wrongColl)
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
	_, err = si.GetCollectionSize(opCtx, wrongColl)
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	count, err := si.GetCollectionCount(opCtx, ns)
	require.NoError(t, err)
	assert.Zero(t, count)
	size, err := si.GetCollectionSize(opCtx, ns)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = si.InsertDocuments(opCtx, ns, idDocs(1, 2, 0))
	require.NoError(t, err)
	count, err = si.GetCollectionCount(opCtx, ns)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
	size, err = si.GetCollectionSize(opCtx, ns)
	require.NoError(t, err)
	assert.NotZero(t, size)
}

func TestListIndexes(t *testing.T) {
	si, opCtx := newTestInterface(t)
	ns := domain.MustParseNamespace("test.coll")
	_, err := si.ListIndexes(opCtx, ns)
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	require.NoError(t, si.CreateCollection(opCtx, ns, domain.CollectionOptions{}))
	_, err = si.InsertDocuments(opCtx, ns, idDocs(1, 2))
	require.NoError(t, err)

	indexes, err := si.ListIndexes(opCtx, ns)
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, domain.IDIndexName, indexes[0].Spec.Name)
	assert.True(t, indexes[0].Ready)
	assert.Equal(t, 2, indexes[0].Entries)
}
