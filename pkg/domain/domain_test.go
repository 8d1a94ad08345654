package domain_test

import (
	"fmt"
	"testing"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestParseNamespace(t *testing.T) {
	tests := []struct {
		in      string
		db      string
		coll    string
		wantErr bool
	}{
		{in: "local.testNS", db: "local", coll: "testNS"},
		{in: "local.oplog.rs", db: "local", coll: "oplog.rs"},
		{in: "a.b.c", db: "a", coll: "b.c"},
		{in: "nodot", wantErr: true},
		{in: ".coll", wantErr: true},
		{in: "db.", wantErr: true},
		{in: "d$b.coll", wantErr: true},
		{in: "db.co$ll", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ns, err := domain.ParseNamespace(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.CodeInvalidNamespace, domain.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.db, ns.DB)
			assert.Equal(t, tt.coll, ns.Coll)
			assert.Equal(t, tt.in, ns.String())
		})
	}
}

func TestNamespaceIsOplog(t *testing.T) {
	assert.True(t, domain.MustParseNamespace("local.oplog.rs").IsOplog())
	assert.False(t, domain.MustParseNamespace("local.replset.minvalid").IsOplog())
}

func TestStatusMatching(t *testing.T) {
	err := domain.NewStatus(domain.CodeNamespaceNotFound, "collection %s not found", "a.b")
	wrapped := errors.Wrap(err, "count")

	assert.True(t, errors.Is(wrapped, domain.ErrNamespaceNotFound))
	assert.False(t, errors.Is(wrapped, domain.ErrIndexNotFound))
	assert.Equal(t, domain.CodeNamespaceNotFound, domain.CodeOf(wrapped))
	assert.Equal(t, "collection a.b not found", domain.ReasonOf(wrapped))
	assert.Contains(t, err.Error(), "NamespaceNotFound")
	assert.True(t, domain.IsNotFound(wrapped))

	assert.Equal(t, domain.CodeOK, domain.CodeOf(nil))
	assert.Equal(t, domain.CodeInternalError, domain.CodeOf(fmt.Errorf("plain")))
	assert.True(t, domain.IsWriteConflict(domain.NewStatus(domain.CodeWriteConflict, "")))
	assert.True(t, domain.IsValidation(domain.NewStatus(domain.CodeNoSuchKey, "start key")))
	assert.Equal(t, "Location9999", domain.ErrorCode(9999).String())
	assert.Equal(t, "CannotCreateNonCappedOplog", domain.CodeCannotCreateNonCappedOplog.String())
}

func TestOpTimeOrdering(t *testing.T) {
	a := domain.NewOpTime(bson.Timestamp{T: 10, I: 1}, 1)
	b := domain.NewOpTime(bson.Timestamp{T: 10, I: 2}, 1)
	c := domain.NewOpTime(bson.Timestamp{T: 10, I: 2}, 2)

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.Equal(t, 1, c.Compare(a))
	assert.True(t, b.Equal(domain.NewOpTime(bson.Timestamp{T: 10, I: 2}, 1)))
	assert.True(t, domain.NullOpTime.IsNull())
	assert.False(t, a.IsNull())
	assert.True(t, domain.NullOpTime.Less(a))
}

func TestOpTimeFromDocument(t *testing.T) {
	ts := bson.Timestamp{T: 42, I: 7}
	doc := bson.D{{Key: "ts", Value: ts}, {Key: "t", Value: int64(3)}, {Key: "op", Value: "i"}}

	ot, err := domain.OpTimeFromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, domain.NewOpTime(ts, 3), ot)

	_, err = domain.OpTimeFromDocument(bson.D{{Key: "_id", Value: 1}})
	assert.True(t, errors.Is(err, domain.ErrNoSuchKey))

	_, err = domain.OpTimeFromDocument(bson.D{{Key: "ts", Value: "nope"}})
	assert.True(t, errors.Is(err, domain.ErrBadValue))

	roundTrip, err := domain.OpTimeFromDocument(ot.ToBSON())
	require.NoError(t, err)
	assert.Equal(t, ot, roundTrip)
}

func TestBoundInclusion(t *testing.T) {
	assert.True(t, domain.IncludeStartKeyOnly.IncludesStart())
	assert.True(t, domain.IncludeBothStartAndEndKeys.IncludesStart())
	assert.False(t, domain.IncludeEndKeyOnly.IncludesStart())
	assert.False(t, domain.ExcludeBothStartAndEndKeys.IncludesStart())

	for _, b := range []domain.BoundInclusion{
		domain.IncludeStartKeyOnly, domain.IncludeEndKeyOnly,
		domain.IncludeBothStartAndEndKeys, domain.ExcludeBothStartAndEndKeys,
	} {
		parsed, err := domain.ParseBoundInclusion(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}
	_, err := domain.ParseBoundInclusion("sideways")
	assert.Error(t, err)

	dir, err := domain.ParseScanDirection("backward")
	require.NoError(t, err)
	assert.Equal(t, domain.Backward, dir)
	dir, err = domain.ParseScanDirection("")
	require.NoError(t, err)
	assert.Equal(t, domain.Forward, dir)
}

func TestCollectionOptionsValidate(t *testing.T) {
	assert.NoError(t, domain.CollectionOptions{}.Validate())
	assert.NoError(t, domain.CollectionOptions{Capped: true, CappedSize: 4096}.Validate())
	assert.Error(t, domain.CollectionOptions{Capped: true}.Validate())
	err := domain.CollectionOptions{CappedSize: 10}.Validate()
	assert.True(t, errors.Is(err, domain.ErrInvalidOptions))
}

func TestIndexSpecFromBSON(t *testing.T) {
	spec, err := domain.IndexSpecFromBSON(bson.D{
		{Key: "v", Value: int32(1)},
		{Key: "key", Value: bson.D{{Key: "a", Value: int32(1)}}},
		{Key: "name", Value: "a_1"},
		{Key: "partialFilterExpression", Value: bson.D{{Key: "a", Value: bson.D{{Key: "$gt", Value: 0}}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a_1", spec.Name)
	assert.Equal(t, int32(1), spec.Version)
	assert.True(t, spec.IsPartial())
	assert.False(t, spec.Unique)

	_, err = domain.IndexSpecFromBSON(bson.D{{Key: "name", Value: "x"}})
	assert.True(t, errors.Is(err, domain.ErrBadValue))

	id := domain.IDIndexSpec()
	assert.True(t, id.IsIDIndex())
	assert.True(t, id.Unique)
	parsed, err := domain.IndexSpecFromBSON(id.ToBSON())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestDocumentHelpers(t *testing.T) {
	doc := bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: bson.D{{Key: "b", Value: "x"}}}}

	v, ok := domain.LookupPath(doc, "a.b")
	require.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = domain.LookupPath(doc, "a.c")
	assert.False(t, ok)
	assert.True(t, domain.HasID(doc))

	doc = domain.Set(doc, "c", 3)
	doc = domain.Set(doc, "_id", 2)
	id, _ := domain.Lookup(doc, "_id")
	assert.Equal(t, 2, id)
	assert.Len(t, doc, 3)

	doc = domain.Unset(doc, "_id")
	assert.False(t, domain.HasID(doc))
}
