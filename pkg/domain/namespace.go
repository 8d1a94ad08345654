package domain

import (
	"strings"
)

// oplogPrefix marks collection names reserved for replication oplogs.
const oplogPrefix = "oplog."

// Namespace identifies a single collection as database.collection.
type Namespace struct {
	DB   string
	Coll string
}

// NewNamespace builds a namespace from its parts.
func NewNamespace(db, coll string) Namespace {
	return Namespace{DB: db, Coll: coll}
}

// ParseNamespace splits "db.coll" at the first dot.
func ParseNamespace(ns string) (Namespace, error) {
	db, coll, ok := strings.Cut(ns, ".")
	if !ok {
		return Namespace{}, NewStatus(CodeInvalidNamespace, "namespace %q has no collection part", ns)
	}
	n := Namespace{DB: db, Coll: coll}
	if err := n.Validate(); err != nil {
		return Namespace{}, err
	}
	return n, nil
}

// MustParseNamespace is ParseNamespace for constants; it panics on malformed input.
func MustParseNamespace(ns string) Namespace {
	n, err := ParseNamespace(ns)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the "db.coll" form.
func (n Namespace) String() string {
	return n.DB + "." + n.Coll
}

// IsOplog reports whether the collection name is in the reserved oplog space.
func (n Namespace) IsOplog() bool {
	return strings.HasPrefix(n.Coll, oplogPrefix)
}

// Validate checks the structural rules for database and collection names.
func (n Namespace) Validate() error {
	switch {
	case n.DB == "":
		return NewStatus(CodeInvalidNamespace, "database name cannot be empty")
	case n.Coll == "":
		return NewStatus(CodeInvalidNamespace, "collection name cannot be empty in %q", n.DB)
	case strings.ContainsAny(n.DB, "./\\ \"$\x00"):
		return NewStatus(CodeInvalidNamespace, "invalid database name %q", n.DB)
	case strings.ContainsAny(n.Coll, "$\x00"):
		return NewStatus(CodeInvalidNamespace, "invalid collection name %q", n.Coll)
	}
	return nil
}
