package indexing

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// canonical type classes, in sort order.
const (
	classMinKey = iota
	classNull
	classNumber
	classString
	classDocument
	classArray
	classBinary
	classObjectID
	classBool
	classDate
	classTimestamp
	classRegex
	classMaxKey
)

func typeClass(v any) int {
	switch v.(type) {
	case bson.MinKey:
		return classMinKey
	case nil, bson.Null, bson.Undefined:
		return classNull
	case int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64, bson.Decimal128:
		return classNumber
	case string, bson.Symbol:
		return classString
	case bson.D, bson.M:
		return classDocument
	case bson.A, []any:
		return classArray
	case bson.Binary, []byte:
		return classBinary
	case bson.ObjectID:
		return classObjectID
	case bool:
		return classBool
	case bson.DateTime, time.Time:
		return classDate
	case bson.Timestamp:
		return classTimestamp
	case bson.Regex:
		return classRegex
	case bson.MaxKey:
		return classMaxKey
	}
	// Unknown Go types sort with documents; they only reach here through hand-built keys.
	return classDocument
}

// Compare orders two BSON values the way an index does: first by canonical type class
// (MinKey, null, numbers, strings, documents, arrays, binary, ObjectId, bool, date, timestamp,
// regex, MaxKey), then by value. Numbers of different Go types compare numerically.
func Compare(a, b any) int {
	ca, cb := typeClass(a), typeClass(b)
	if ca != cb {
		return cmpInt(int64(ca), int64(cb))
	}
	switch ca {
	case classMinKey, classNull, classMaxKey:
		return 0
	case classNumber:
		return compareNumbers(a, b)
	case classString:
		return strings.Compare(stringOf(a), stringOf(b))
	case classDocument:
		return compareDocuments(documentOf(a), documentOf(b))
	case classArray:
		return compareArrays(arrayOf(a), arrayOf(b))
	case classBinary:
		return compareBinary(a, b)
	case classObjectID:
		oa, ob := a.(bson.ObjectID), b.(bson.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case classBool:
		return compareBools(a.(bool), b.(bool))
	case classDate:
		return cmpInt(dateOf(a), dateOf(b))
	case classTimestamp:
		return domain.CompareTimestamps(a.(bson.Timestamp), b.(bson.Timestamp))
	case classRegex:
		ra, rb := a.(bson.Regex), b.(bson.Regex)
		if c := strings.Compare(ra.Pattern, rb.Pattern); c != 0 {
			return c
		}
		return strings.Compare(ra.Options, rb.Options)
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// asInt returns the value as an int64 when it is an integral Go type.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v any) float64 {
	if i, ok := asInt(v); ok {
		return float64(i)
	}
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	case bson.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func compareNumbers(a, b any) int {
	ia, okA := asInt(a)
	ib, okB := asInt(b)
	if okA && okB {
		return cmpInt(ia, ib)
	}
	fa, fb := asFloat(a), asFloat(b)
	// NaN sorts below every other number.
	switch {
	case math.IsNaN(fa) && math.IsNaN(fb):
		return 0
	case math.IsNaN(fa):
		return -1
	case math.IsNaN(fb):
		return 1
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func stringOf(v any) string {
	if s, ok := v.(bson.Symbol); ok {
		return string(s)
	}
	return v.(string)
}

func documentOf(v any) bson.D {
	switch d := v.(type) {
	case bson.D:
		return d
	case bson.M:
		out := make(bson.D, 0, len(d))
		for k, val := range d {
			out = append(out, bson.E{Key: k, Value: val})
		}
		return out
	}
	return nil
}

func compareDocuments(a, b bson.D) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := cmpInt(int64(typeClass(a[i].Value)), int64(typeClass(b[i].Value))); c != 0 {
			return c
		}
		if c := strings.Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

func arrayOf(v any) []any {
	switch a := v.(type) {
	case bson.A:
		return a
	case []any:
		return a
	}
	return nil
}

func compareArrays(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

func compareBinary(a, b any) int {
	var ba, bb bson.Binary
	switch v := a.(type) {
	case bson.Binary:
		ba = v
	case []byte:
		ba = bson.Binary{Data: v}
	}
	switch v := b.(type) {
	case bson.Binary:
		bb = v
	case []byte:
		bb = bson.Binary{Data: v}
	}
	if c := cmpInt(int64(len(ba.Data)), int64(len(bb.Data))); c != 0 {
		return c
	}
	if c := cmpInt(int64(ba.Subtype), int64(bb.Subtype)); c != 0 {
		return c
	}
	return bytes.Compare(ba.Data, bb.Data)
}

func dateOf(v any) int64 {
	switch d := v.(type) {
	case bson.DateTime:
		return int64(d)
	case time.Time:
		return d.UnixMilli()
	}
	return 0
}
