package domain

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// IDIndexName is the name of the index on _id.
const IDIndexName = "_id_"

// CurrentIndexVersion is the index format version written for new specs.
const CurrentIndexVersion int32 = 2

// IndexSpec describes an index: its name, key pattern and options.
type IndexSpec struct {
	Name                    string
	Key                     bson.D
	Unique                  bool
	Version                 int32
	PartialFilterExpression bson.D
}

// IDIndexSpec returns the spec of the unique _id index.
func IDIndexSpec() IndexSpec {
	return IndexSpec{
		Name:    IDIndexName,
		Key:     bson.D{{Key: IDField, Value: int32(1)}},
		Unique:  true,
		Version: CurrentIndexVersion,
	}
}

// IsPartial reports whether the index carries a partial filter predicate.
func (s IndexSpec) IsPartial() bool {
	return s.PartialFilterExpression != nil
}

// IsIDIndex reports whether the spec is the _id index.
func (s IndexSpec) IsIDIndex() bool {
	return s.Name == IDIndexName
}

// Validate checks the structural rules of a spec.
func (s IndexSpec) Validate() error {
	if s.Name == "" {
		return NewStatus(CodeBadValue, "index spec has no name")
	}
	if len(s.Key) == 0 {
		return NewStatus(CodeBadValue, "index %q has an empty key pattern", s.Name)
	}
	for _, e := range s.Key {
		if e.Key == "" {
			return NewStatus(CodeBadValue, "index %q has an empty key field", s.Name)
		}
	}
	return nil
}

// ToBSON renders the spec as an index description document.
func (s IndexSpec) ToBSON() bson.D {
	v := s.Version
	if v == 0 {
		v = CurrentIndexVersion
	}
	d := bson.D{
		{Key: "v", Value: v},
		{Key: "key", Value: s.Key},
		{Key: "name", Value: s.Name},
	}
	if s.Unique {
		d = append(d, bson.E{Key: "unique", Value: true})
	}
	if s.IsPartial() {
		d = append(d, bson.E{Key: "partialFilterExpression", Value: s.PartialFilterExpression})
	}
	return d
}

// IndexSpecFromBSON parses an index description document.
func IndexSpecFromBSON(doc bson.D) (IndexSpec, error) {
	var spec IndexSpec
	for _, e := range doc {
		switch e.Key {
		case "name":
			name, ok := e.Value.(string)
			if !ok {
				return IndexSpec{}, NewStatus(CodeBadValue, "index name must be a string, got %T", e.Value)
			}
			spec.Name = name
		case "key":
			key, ok := e.Value.(bson.D)
			if !ok {
				return IndexSpec{}, NewStatus(CodeBadValue, "index key must be a document, got %T", e.Value)
			}
			spec.Key = key
		case "unique":
			unique, ok := e.Value.(bool)
			if !ok {
				return IndexSpec{}, NewStatus(CodeBadValue, "unique must be a boolean, got %T", e.Value)
			}
			spec.Unique = unique
		case "v":
			switch v := e.Value.(type) {
			case int32:
				spec.Version = v
			case int64:
				spec.Version = int32(v)
			case int:
				spec.Version = int32(v)
			case float64:
				spec.Version = int32(v)
			default:
				return IndexSpec{}, NewStatus(CodeBadValue, "index version must be a number, got %T", e.Value)
			}
		case "partialFilterExpression":
			filter, ok := e.Value.(bson.D)
			if !ok {
				return IndexSpec{}, NewStatus(CodeBadValue, "partialFilterExpression must be a document, got %T", e.Value)
			}
			spec.PartialFilterExpression = filter
		}
	}
	if spec.Version == 0 {
		spec.Version = CurrentIndexVersion
	}
	if err := spec.Validate(); err != nil {
		return IndexSpec{}, err
	}
	return spec, nil
}
