package indexing

import (
	"strings"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Matches evaluates a partial-filter expression against doc. It supports field equality,
// $eq, $exists, $gt, $gte, $lt, $lte and a top-level $and. Unknown operators never match.
func Matches(filter bson.D, doc domain.Document) bool {
	for _, clause := range filter {
		if clause.Key == "$and" {
			subs, ok := clause.Value.(bson.A)
			if !ok {
				return false
			}
			for _, sub := range subs {
				d, ok := sub.(bson.D)
				if !ok || !Matches(d, doc) {
					return false
				}
			}
			continue
		}
		value, present := domain.LookupPath(doc, clause.Key)
		if ops, ok := operatorDocument(clause.Value); ok {
			for _, op := range ops {
				if !matchOperator(op.Key, op.Value, value, present) {
					return false
				}
			}
			continue
		}
		if Compare(value, clause.Value) != 0 {
			return false
		}
	}
	return true
}

func operatorDocument(v any) (bson.D, bool) {
	d, ok := v.(bson.D)
	if !ok || len(d) == 0 || !strings.HasPrefix(d[0].Key, "$") {
		return nil, false
	}
	return d, true
}

func matchOperator(op string, operand, value any, present bool) bool {
	switch op {
	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			want = typeClass(operand) == classNumber && compareNumbers(operand, 0) != 0
		}
		return present == want
	case "$eq":
		return Compare(value, operand) == 0
	}
	// Range operators only match values of the operand's type class.
	if !present || typeClass(value) != typeClass(operand) {
		return false
	}
	c := Compare(value, operand)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}
