package indexing

import (
	"fmt"
	"strings"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Key is an index key tuple, one value per key-pattern field.
type Key []any

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		switch v {
		case lowest:
			parts[i] = "MinKey"
		case highest:
			parts[i] = "MaxKey"
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// boundary pads partial seek keys. It sorts outside every BSON value in index order,
// whatever the field's direction.
type boundary int

const (
	lowest boundary = iota - 1
	_
	highest
)

// KeyPattern is the parsed form of an index key document such as {a: 1, b: -1}.
type KeyPattern struct {
	Fields     []string
	Directions []int
}

// ParseKeyPattern reads field names and directions from a key document. Any negative numeric
// value means descending; everything else (including special index types) is ascending.
func ParseKeyPattern(key bson.D) (KeyPattern, error) {
	if len(key) == 0 {
		return KeyPattern{}, domain.NewStatus(domain.CodeBadValue, "empty key pattern")
	}
	kp := KeyPattern{
		Fields:     make([]string, len(key)),
		Directions: make([]int, len(key)),
	}
	for i, e := range key {
		if e.Key == "" {
			return KeyPattern{}, domain.NewStatus(domain.CodeBadValue, "key pattern field %d has no name", i)
		}
		kp.Fields[i] = e.Key
		kp.Directions[i] = 1
		if typeClass(e.Value) == classNumber && compareNumbers(e.Value, 0) < 0 {
			kp.Directions[i] = -1
		}
	}
	return kp, nil
}

// Len returns the number of fields in the pattern.
func (kp KeyPattern) Len() int { return len(kp.Fields) }

// ExtractKey builds the key of doc. Missing fields index as null.
func (kp KeyPattern) ExtractKey(doc domain.Document) Key {
	key := make(Key, len(kp.Fields))
	for i, f := range kp.Fields {
		if v, ok := domain.LookupPath(doc, f); ok {
			key[i] = v
		}
	}
	return key
}

// KeyFromDocument takes the values of a seek-key document in order; field names are ignored.
func KeyFromDocument(d bson.D) Key {
	if len(d) == 0 {
		return nil
	}
	key := make(Key, len(d))
	for i, e := range d {
		key[i] = e.Value
	}
	return key
}

// Compare orders two keys under the pattern's directions.
func (kp KeyPattern) Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareField(a[i], b[i], kp.direction(i)); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

// pad extends a seek key to the full pattern length using the given boundary.
func (kp KeyPattern) pad(k Key, fill boundary) Key {
	if len(k) >= len(kp.Fields) {
		return k
	}
	out := make(Key, len(kp.Fields))
	copy(out, k)
	for i := len(k); i < len(out); i++ {
		out[i] = fill
	}
	return out
}

func (kp KeyPattern) direction(i int) int {
	if i < len(kp.Directions) {
		return kp.Directions[i]
	}
	return 1
}

func compareField(a, b any, dir int) int {
	ba, aIsBound := a.(boundary)
	bb, bIsBound := b.(boundary)
	switch {
	case aIsBound && bIsBound:
		return cmpInt(int64(ba), int64(bb))
	case aIsBound:
		return int(ba)
	case bIsBound:
		return -int(bb)
	}
	return Compare(a, b) * dir
}
