package repl

import (
	"testing"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var testNS = domain.MustParseNamespace("local.testNS")

func startKey(v any) bson.D {
	return bson.D{{Key: "", Value: v}}
}

// seedCollection creates testNS and inserts documents with the given _id values.
func seedCollection(t *testing.T, si *StorageInterface, opCtx *storage.OperationContext, ids ...any) {
	t.Helper()
	require.NoError(t, si.CreateCollection(opCtx, testNS, domain.CollectionOptions{}))
	_, err := si.InsertDocuments(opCtx, testNS, idDocs(ids...))
	require.NoError(t, err)
}

type scanCase struct {
	name  string
	dir   domain.ScanDirection
	start bson.D
	bound domain.BoundInclusion
	limit int
	want  []any
}

var idIndexScanCases = []scanCase{
	{name: "forward from the lowest key", dir: domain.Forward, bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(0)}},
	{name: "forward limit 0", dir: domain.Forward, bound: domain.IncludeStartKeyOnly, limit: 0, want: []any{}},
	{name: "forward limit 2", dir: domain.Forward, bound: domain.IncludeStartKeyOnly, limit: 2, want: []any{int32(0), int32(1)}},
	{name: "forward include start 0", dir: domain.Forward, start: startKey(0), bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(0)}},
	{name: "forward include start 1", dir: domain.Forward, start: startKey(1), bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(1)}},
	{name: "forward include start between keys", dir: domain.Forward, start: startKey(0.5), bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(1)}},
	{name: "forward include both", dir: domain.Forward, start: startKey(1), bound: domain.IncludeBothStartAndEndKeys, limit: 1, want: []any{int32(1)}},
	{name: "forward include end skips the start key", dir: domain.Forward, start: startKey(1), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(2)}},
	{name: "forward include end between keys", dir: domain.Forward, start: startKey(1.5), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(2)}},
	{name: "forward include end from 2", dir: domain.Forward, start: startKey(2), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(3)}},
	{name: "forward exclude both", dir: domain.Forward, start: startKey(1), bound: domain.ExcludeBothStartAndEndKeys, limit: 1, want: []any{int32(2)}},
	{name: "forward stops at the end of the index", dir: domain.Forward, start: startKey(2), bound: domain.ExcludeBothStartAndEndKeys, limit: 3, want: []any{int32(3), int32(4)}},
	{name: "backward from the highest key", dir: domain.Backward, bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(4)}},
	{name: "backward limit 0", dir: domain.Backward, bound: domain.IncludeStartKeyOnly, limit: 0, want: []any{}},
	{name: "backward limit 2", dir: domain.Backward, bound: domain.IncludeStartKeyOnly, limit: 2, want: []any{int32(4), int32(3)}},
	{name: "backward include start 4", dir: domain.Backward, start: startKey(4), bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(4)}},
	{name: "backward include start 3", dir: domain.Backward, start: startKey(3), bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(3)}},
	{name: "backward include both", dir: domain.Backward, start: startKey(4), bound: domain.IncludeBothStartAndEndKeys, limit: 1, want: []any{int32(4)}},
	{name: "backward include end skips the start key", dir: domain.Backward, start: startKey(3), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(2)}},
	{name: "backward include end from 1", dir: domain.Backward, start: startKey(1), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(0)}},
	{name: "backward include end between keys", dir: domain.Backward, start: startKey(2.5), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(2)}},
	{name: "backward exclude both", dir: domain.Backward, start: startKey(3), bound: domain.ExcludeBothStartAndEndKeys, limit: 1, want: []any{int32(2)}},
	{name: "backward stops at the start of the index", dir: domain.Backward, start: startKey(2), bound: domain.ExcludeBothStartAndEndKeys, limit: 3, want: []any{int32(1), int32(0)}},
}

func TestFindDocumentsByIDIndex(t *testing.T) {
	si, opCtx := newTestInterface(t)
	seedCollection(t, si, opCtx, 0, 1, 2, 3, 4)

	for _, tt := range idIndexScanCases {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := si.FindDocuments(opCtx, testNS, domain.IDIndexName, tt.dir, tt.start, tt.bound, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, idsOf(docs))
		})
	}

	// Finding never changes the collection.
	assert.Equal(t, []any{int32(4), int32(3), int32(2), int32(1), int32(0)}, collectionIDs(t, si, testNS))
}

func TestFindDocumentsErrors(t *testing.T) {
	t.Run("missing collection", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		_, err := si.FindDocuments(opCtx, testNS, domain.IDIndexName, domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
		assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
	})

	t.Run("missing index", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		require.NoError(t, si.CreateCollection(opCtx, testNS, domain.CollectionOptions{}))
		_, err := si.FindDocuments(opCtx, testNS, "nonexistent", domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
		assert.ErrorIs(t, err, domain.ErrIndexNotFound)
	})

	t.Run("partial index", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		partial := domain.IndexSpec{
			Name:                    "x_1",
			Key:                     bson.D{{Key: "x", Value: 1}},
			Version:                 1,
			PartialFilterExpression: bson.D{{Key: "y", Value: 1}},
		}
		loader, err := si.CreateCollectionForBulkLoading(testNS, domain.CollectionOptions{}, domain.IDIndexSpec(), []domain.IndexSpec{partial})
		require.NoError(t, err)
		require.NoError(t, loader.InsertDocuments(idDocs(1, 1, 2)))
		require.NoError(t, loader.Commit())

		_, err = si.FindDocuments(opCtx, testNS, "x_1", domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
		assert.ErrorIs(t, err, domain.ErrIndexOptionsConflict)
	})

	t.Run("negative limit", func(t *testing.T) {
		si, opCtx := newTestInterface(t)
		_, err := si.FindDocuments(opCtx, testNS, domain.IDIndexName, domain.Forward, nil, domain.IncludeStartKeyOnly, -1)
		assert.ErrorIs(t, err, domain.ErrBadValue)
	})
}

func TestFindDocumentsEmptyCollection(t *testing.T) {
	si, opCtx := newTestInterface(t)
	require.NoError(t, si.CreateCollection(opCtx, testNS, domain.CollectionOptions{}))

	docs, err := si.FindDocuments(opCtx, testNS, domain.IDIndexName, domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestFindDocumentsCollectionScan(t *testing.T) {
	si, opCtx := newTestInterface(t)
	seedCollection(t, si, opCtx, 1, 2, 0)

	docs, err := si.FindDocuments(opCtx, testNS, "", domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1)}, idsOf(docs))

	docs, err = si.FindDocuments(opCtx, testNS, "", domain.Backward, nil, domain.IncludeStartKeyOnly, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(0)}, idsOf(docs))

	docs, err = si.FindDocuments(opCtx, testNS, "", domain.Forward, nil, domain.IncludeStartKeyOnly, 10)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1), int32(2), int32(0)}, idsOf(docs))

	_, err = si.FindDocuments(opCtx, testNS, "", domain.Forward, startKey(1), domain.IncludeStartKeyOnly, 1)
	assert.ErrorIs(t, err, domain.ErrNoSuchKey)

	for _, bound := range []domain.BoundInclusion{domain.IncludeEndKeyOnly, domain.IncludeBothStartAndEndKeys, domain.ExcludeBothStartAndEndKeys} {
		_, err = si.FindDocuments(opCtx, testNS, "", domain.Forward, nil, bound, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidOptions, bound.String())
	}

	assert.Equal(t, []any{int32(0), int32(2), int32(1)}, collectionIDs(t, si, testNS))
}

func TestFindDocumentsBySecondaryIndex(t *testing.T) {
	si, opCtx := newTestInterface(t)
	require.NoError(t, si.CreateCollection(opCtx, testNS, domain.CollectionOptions{}))
	coll, err := si.Engine().LookupCollection(testNS)
	require.NoError(t, err)
	wunit := storage.BeginWriteUnitOfWork(opCtx)
	require.NoError(t, coll.CreateIndex(opCtx, domain.IndexSpec{Name: "x_-1", Key: bson.D{{Key: "x", Value: -1}}, Version: 2}))
	require.NoError(t, wunit.Commit())
	wunit.Close()

	_, err = si.InsertDocuments(opCtx, testNS, []domain.Document{
		{{Key: "_id", Value: 1}, {Key: "x", Value: "b"}},
		{{Key: "_id", Value: 2}, {Key: "x", Value: "c"}},
		{{Key: "_id", Value: 3}, {Key: "x", Value: "a"}},
	})
	require.NoError(t, err)

	// A descending index visits larger values first in the forward direction.
	docs, err := si.FindDocuments(opCtx, testNS, "x_-1", domain.Forward, nil, domain.IncludeStartKeyOnly, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(2), int32(1), int32(3)}, idsOf(docs))

	docs, err = si.FindDocuments(opCtx, testNS, "x_-1", domain.Forward, startKey("b"), domain.IncludeEndKeyOnly, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(3)}, idsOf(docs))
}

func TestDeleteDocumentsByIDIndex(t *testing.T) {
	tests := []struct {
		scanCase
		remaining []any // newest first
	}{
		{
			scanCase:  scanCase{dir: domain.Forward, bound: domain.IncludeStartKeyOnly, limit: 1, want: []any{int32(0)}},
			remaining: []any{int32(4), int32(3), int32(2), int32(1)},
		},
		{
			scanCase:  scanCase{dir: domain.Forward, start: startKey(2), bound: domain.IncludeStartKeyOnly, limit: 10, want: []any{int32(2), int32(3), int32(4)}},
			remaining: []any{int32(1), int32(0)},
		},
		{
			scanCase:  scanCase{dir: domain.Forward, start: startKey(2), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(3)}},
			remaining: []any{int32(4), int32(2), int32(1), int32(0)},
		},
		{
			scanCase:  scanCase{dir: domain.Backward, bound: domain.IncludeStartKeyOnly, limit: 2, want: []any{int32(4), int32(3)}},
			remaining: []any{int32(2), int32(1), int32(0)},
		},
		{
			scanCase:  scanCase{dir: domain.Backward, start: startKey(1), bound: domain.IncludeEndKeyOnly, limit: 1, want: []any{int32(0)}},
			remaining: []any{int32(4), int32(3), int32(2), int32(1)},
		},
		{
			scanCase:  scanCase{dir: domain.Backward, start: startKey(3), bound: domain.ExcludeBothStartAndEndKeys, limit: 5, want: []any{int32(2), int32(1), int32(0)}},
			remaining: []any{int32(4), int32(3)},
		},
		{
			scanCase:  scanCase{dir: domain.Forward, bound: domain.IncludeStartKeyOnly, limit: 0, want: []any{}},
			remaining: []any{int32(4), int32(3), int32(2), int32(1), int32(0)},
		},
	}

	for _, tt := range tests {
		name := tt.dir.String() + " " + tt.bound.String()
		t.Run(name, func(t *testing.T) {
			si, opCtx := newTestInterface(t)
			seedCollection(t, si, opCtx, 0, 1, 2, 3, 4)

			docs, err := si.DeleteDocuments(opCtx, testNS, domain.IDIndexName, tt.dir, tt.start, tt.bound, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, idsOf(docs))
			assert.Equal(t, tt.remaining, collectionIDs(t, si, testNS))

			// Deleted documents are gone from the index as well.
			left, err := si.FindDocuments(opCtx, testNS, domain.IDIndexName, domain.Forward, nil, domain.IncludeStartKeyOnly, 10)
			require.NoError(t, err)
			assert.Len(t, left, len(tt.remaining))
		})
	}
}

func TestDeleteDocumentsCollectionScan(t *testing.T) {
	si, opCtx := newTestInterface(t)
	seedCollection(t, si, opCtx, 1, 2, 0)

	docs, err := si.DeleteDocuments(opCtx, testNS, "", domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1)}, idsOf(docs))

	docs, err = si.DeleteDocuments(opCtx, testNS, "", domain.Backward, nil, domain.IncludeStartKeyOnly, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(0)}, idsOf(docs))

	assert.Equal(t, []any{int32(2)}, collectionIDs(t, si, testNS))

	_, err = si.DeleteDocuments(opCtx, testNS, "", domain.Forward, startKey(1), domain.IncludeStartKeyOnly, 1)
	assert.ErrorIs(t, err, domain.ErrNoSuchKey)
	_, err = si.DeleteDocuments(opCtx, testNS, "", domain.Forward, nil, domain.IncludeEndKeyOnly, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOptions)
}

func TestDeleteDocumentsErrors(t *testing.T) {
	si, opCtx := newTestInterface(t)
	_, err := si.DeleteDocuments(opCtx, testNS, domain.IDIndexName, domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)

	require.NoError(t, si.CreateCollection(opCtx, testNS, domain.CollectionOptions{}))
	_, err = si.DeleteDocuments(opCtx, testNS, "nonexistent", domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)

	docs, err := si.DeleteDocuments(opCtx, testNS, domain.IDIndexName, domain.Forward, nil, domain.IncludeStartKeyOnly, 1)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDeleteDocumentsRetriesWriteConflicts(t *testing.T) {
	si, opCtx := newTestInterface(t)
	seedCollection(t, si, opCtx, 0, 1, 2, 3, 4)

	si.Engine().InjectWriteConflicts(2)
	docs, err := si.DeleteDocuments(opCtx, testNS, domain.IDIndexName, domain.Forward, startKey(3), domain.IncludeStartKeyOnly, 5)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(3), int32(4)}, idsOf(docs))
	assert.Equal(t, []any{int32(2), int32(1), int32(0)}, collectionIDs(t, si, testNS))
}

func TestOplogIteratorMissingCollection(t *testing.T) {
	si, _ := newTestInterface(t)
	_, err := si.NewOplogIterator(domain.MustParseNamespace("local.oplog.rs"))
	assert.ErrorIs(t, err, domain.ErrNamespaceNotFound)
}
