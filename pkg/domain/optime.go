package domain

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Field names used when an OpTime is embedded in a document.
const (
	OpTimeTimestampField = "ts"
	OpTimeTermField      = "t"
)

// OpTime is a (timestamp, term) position in the replicated log.
type OpTime struct {
	Timestamp bson.Timestamp
	Term      int64
}

// NullOpTime is the unset OpTime.
var NullOpTime = OpTime{}

// NewOpTime builds an OpTime.
func NewOpTime(ts bson.Timestamp, term int64) OpTime {
	return OpTime{Timestamp: ts, Term: term}
}

// IsNull reports whether the OpTime is unset.
func (o OpTime) IsNull() bool {
	return o.Timestamp.T == 0 && o.Timestamp.I == 0 && o.Term == 0
}

// Compare orders by timestamp, then term.
func (o OpTime) Compare(other OpTime) int {
	if c := CompareTimestamps(o.Timestamp, other.Timestamp); c != 0 {
		return c
	}
	switch {
	case o.Term < other.Term:
		return -1
	case o.Term > other.Term:
		return 1
	}
	return 0
}

// Less reports whether o orders before other.
func (o OpTime) Less(other OpTime) bool {
	return o.Compare(other) < 0
}

// Equal reports whether o and other name the same position.
func (o OpTime) Equal(other OpTime) bool {
	return o.Compare(other) == 0
}

func (o OpTime) String() string {
	return fmt.Sprintf("{ ts: Timestamp(%d, %d), t: %d }", o.Timestamp.T, o.Timestamp.I, o.Term)
}

// ToBSON renders the OpTime as {ts, t}.
func (o OpTime) ToBSON() bson.D {
	return bson.D{
		{Key: OpTimeTimestampField, Value: o.Timestamp},
		{Key: OpTimeTermField, Value: o.Term},
	}
}

// OpTimeFromDocument reads the ts and t fields of doc. It fails with NoSuchKey when ts is absent
// and with BadValue when either field has the wrong type.
func OpTimeFromDocument(doc Document) (OpTime, error) {
	raw, ok := Lookup(doc, OpTimeTimestampField)
	if !ok {
		return NullOpTime, NewStatus(CodeNoSuchKey, "missing %q field", OpTimeTimestampField)
	}
	ts, ok := raw.(bson.Timestamp)
	if !ok {
		return NullOpTime, NewStatus(CodeBadValue, "%q field has type %T, expected timestamp", OpTimeTimestampField, raw)
	}
	var term int64
	if rawTerm, ok := Lookup(doc, OpTimeTermField); ok {
		switch v := rawTerm.(type) {
		case int64:
			term = v
		case int32:
			term = int64(v)
		case int:
			term = int64(v)
		case float64:
			term = int64(v)
		default:
			return NullOpTime, NewStatus(CodeBadValue, "%q field has type %T, expected a number", OpTimeTermField, rawTerm)
		}
	}
	return OpTime{Timestamp: ts, Term: term}, nil
}

// CompareTimestamps orders two timestamps by seconds, then increment.
func CompareTimestamps(a, b bson.Timestamp) int {
	switch {
	case a.T < b.T:
		return -1
	case a.T > b.T:
		return 1
	case a.I < b.I:
		return -1
	case a.I > b.I:
		return 1
	}
	return 0
}
