package domain

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// IDField is the identifier field every document in an _id-indexed collection must carry.
const IDField = "_id"

// Document is an ordered BSON document.
type Document = bson.D

// Lookup returns the value of a top-level field.
func Lookup(doc Document, field string) (any, bool) {
	for _, e := range doc {
		if e.Key == field {
			return e.Value, true
		}
	}
	return nil, false
}

// LookupPath resolves a dotted path ("a.b.c") through embedded documents.
func LookupPath(doc Document, path string) (any, bool) {
	head, rest, nested := cutPath(path)
	v, ok := Lookup(doc, head)
	if !ok || !nested {
		return v, ok
	}
	switch sub := v.(type) {
	case bson.D:
		return LookupPath(sub, rest)
	case bson.M:
		return LookupPath(mapToD(sub), rest)
	default:
		return nil, false
	}
}

// HasID reports whether the document carries an _id field.
func HasID(doc Document) bool {
	_, ok := Lookup(doc, IDField)
	return ok
}

// Set replaces the value of field, appending it when absent.
func Set(doc Document, field string, value any) Document {
	for i := range doc {
		if doc[i].Key == field {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: field, Value: value})
}

// Unset removes field from the document if present.
func Unset(doc Document, field string) Document {
	out := doc[:0]
	for _, e := range doc {
		if e.Key != field {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a shallow copy of the document's element slice.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	copy(out, doc)
	return out
}

func cutPath(path string) (head, rest string, nested bool) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i], path[i+1:], true
		}
	}
	return path, "", false
}

func mapToD(m bson.M) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}
