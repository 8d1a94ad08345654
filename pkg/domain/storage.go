package domain

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// AutoIndexID controls whether CreateCollection builds the _id index.
type AutoIndexID int

const (
	AutoIndexDefault AutoIndexID = iota
	AutoIndexYes
	AutoIndexNo
)

// CollectionOptions are the creation-time options of a collection.
type CollectionOptions struct {
	Capped        bool        `msgpack:"capped"`
	CappedSize    int64       `msgpack:"size,omitempty"`
	CappedMaxDocs int64       `msgpack:"max,omitempty"`
	AutoIndexID   AutoIndexID `msgpack:"autoIndexId,omitempty"`
}

// Validate rejects option combinations the engine cannot honour.
func (o CollectionOptions) Validate() error {
	if !o.Capped {
		if o.CappedSize != 0 || o.CappedMaxDocs != 0 {
			return NewStatus(CodeInvalidOptions, "size and max are only valid for capped collections")
		}
		return nil
	}
	if o.CappedSize <= 0 {
		return NewStatus(CodeBadValue, "capped collection requires a positive size, got %d", o.CappedSize)
	}
	if o.CappedMaxDocs < 0 {
		return NewStatus(CodeBadValue, "capped collection max must not be negative, got %d", o.CappedMaxDocs)
	}
	return nil
}

// ToBSON renders the options the way listCollections would.
func (o CollectionOptions) ToBSON() bson.D {
	d := bson.D{}
	if o.Capped {
		d = append(d, bson.E{Key: "capped", Value: true}, bson.E{Key: "size", Value: o.CappedSize})
		if o.CappedMaxDocs > 0 {
			d = append(d, bson.E{Key: "max", Value: o.CappedMaxDocs})
		}
	}
	switch o.AutoIndexID {
	case AutoIndexYes:
		d = append(d, bson.E{Key: "autoIndexId", Value: true})
	case AutoIndexNo:
		d = append(d, bson.E{Key: "autoIndexId", Value: false})
	}
	return d
}

// RecordID is the engine-assigned identity of a stored record. Ids grow with insertion order.
type RecordID int64

// Record is a stored document together with its identity.
type Record struct {
	ID  RecordID
	Doc Document
}
