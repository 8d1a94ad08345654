package repl

import (
	"log/slog"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Field names of the min-valid document.
const (
	BeginFieldName                = "begin"
	OplogDeleteFromPointFieldName = "oplogDeleteFromPoint"
	InitialSyncFlagFieldName      = "initialSyncFlag"
)

// MinValidStore reads and writes the single min-valid document of a storage instance. The
// document and its collection are created by the first write.
type MinValidStore struct {
	engine *storage.StorageEngine
	ns     domain.Namespace
	logger *slog.Logger
}

// NewMinValidStore creates a store for the document in ns.
func NewMinValidStore(engine *storage.StorageEngine, ns domain.Namespace, logger *slog.Logger) *MinValidStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MinValidStore{engine: engine, ns: ns, logger: logger}
}

// MinValidNamespace returns where the document lives.
func (s *MinValidStore) MinValidNamespace() domain.Namespace { return s.ns }

type writeConfig struct {
	waitForDurable bool
}

// WriteOption tunes a single min-valid write.
type WriteOption func(*writeConfig)

// WaitForDurable makes the write block until it is on stable storage.
func WaitForDurable() WriteOption {
	return func(c *writeConfig) {
		c.waitForDurable = true
	}
}

// MinValidDocument returns the stored document, or nil if none was written yet.
func (s *MinValidStore) MinValidDocument(opCtx *storage.OperationContext) domain.Document {
	_, rec, found, err := s.find()
	if err != nil {
		s.logger.Warn("failed to read min valid document", "op", opCtx.Name(), "ns", s.ns.String(), "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return rec.Doc
}

// InitialSyncFlag reports whether an initial sync is marked as in progress.
func (s *MinValidStore) InitialSyncFlag(opCtx *storage.OperationContext) bool {
	v, ok := domain.Lookup(s.MinValidDocument(opCtx), InitialSyncFlagFieldName)
	if !ok {
		return false
	}
	flag, _ := v.(bool)
	return flag
}

// SetInitialSyncFlag marks an initial sync as in progress. It always waits for durability.
func (s *MinValidStore) SetInitialSyncFlag(opCtx *storage.OperationContext) error {
	return s.update(opCtx, "setInitialSyncFlag", writeConfig{waitForDurable: true}, func(doc domain.Document) (domain.Document, bool) {
		return domain.Set(doc, InitialSyncFlagFieldName, true), true
	})
}

// ClearInitialSyncFlag clears the flag. It always waits for durability.
func (s *MinValidStore) ClearInitialSyncFlag(opCtx *storage.OperationContext) error {
	return s.update(opCtx, "clearInitialSyncFlag", writeConfig{waitForDurable: true}, func(doc domain.Document) (domain.Document, bool) {
		return domain.Unset(doc, InitialSyncFlagFieldName), true
	})
}

// MinValid returns the optime the node must reach before it is consistent, or the null
// optime when unset.
func (s *MinValidStore) MinValid(opCtx *storage.OperationContext) domain.OpTime {
	return s.readOpTime(opCtx, s.MinValidDocument(opCtx), "minValid")
}

// SetMinValid overwrites minValid, moving it in either direction.
func (s *MinValidStore) SetMinValid(opCtx *storage.OperationContext, ot domain.OpTime, opts ...WriteOption) error {
	return s.update(opCtx, "setMinValid", newWriteConfig(opts), func(doc domain.Document) (domain.Document, bool) {
		return setOpTime(doc, ot), true
	})
}

// SetMinValidToAtLeast raises minValid to ot. When ot is not strictly greater than the
// current value nothing is written.
func (s *MinValidStore) SetMinValidToAtLeast(opCtx *storage.OperationContext, ot domain.OpTime, opts ...WriteOption) error {
	if !s.MinValid(opCtx).Less(ot) {
		return nil
	}
	return s.update(opCtx, "setMinValidToAtLeast", newWriteConfig(opts), func(doc domain.Document) (domain.Document, bool) {
		if !s.readOpTime(opCtx, doc, "minValid").Less(ot) {
			return doc, false
		}
		return setOpTime(doc, ot), true
	})
}

// AppliedThrough returns the optime of the last oplog entry fully applied, or the null optime.
func (s *MinValidStore) AppliedThrough(opCtx *storage.OperationContext) domain.OpTime {
	v, ok := domain.Lookup(s.MinValidDocument(opCtx), BeginFieldName)
	if !ok {
		return domain.NullOpTime
	}
	begin, ok := v.(bson.D)
	if !ok {
		s.logger.Warn("ignoring malformed min valid field", "ns", s.ns.String(), "field", BeginFieldName)
		return domain.NullOpTime
	}
	return s.readOpTime(opCtx, begin, BeginFieldName)
}

// SetAppliedThrough overwrites appliedThrough. The null optime removes it.
func (s *MinValidStore) SetAppliedThrough(opCtx *storage.OperationContext, ot domain.OpTime, opts ...WriteOption) error {
	return s.update(opCtx, "setAppliedThrough", newWriteConfig(opts), func(doc domain.Document) (domain.Document, bool) {
		if ot.IsNull() {
			return domain.Unset(doc, BeginFieldName), true
		}
		return domain.Set(doc, BeginFieldName, ot.ToBSON()), true
	})
}

// OplogDeleteFromPoint returns the oplog truncation point, or the zero timestamp.
func (s *MinValidStore) OplogDeleteFromPoint(opCtx *storage.OperationContext) bson.Timestamp {
	v, ok := domain.Lookup(s.MinValidDocument(opCtx), OplogDeleteFromPointFieldName)
	if !ok {
		return bson.Timestamp{}
	}
	ts, ok := v.(bson.Timestamp)
	if !ok {
		s.logger.Warn("ignoring malformed min valid field", "ns", s.ns.String(), "field", OplogDeleteFromPointFieldName)
		return bson.Timestamp{}
	}
	return ts
}

// SetOplogDeleteFromPoint overwrites the oplog truncation point.
func (s *MinValidStore) SetOplogDeleteFromPoint(opCtx *storage.OperationContext, ts bson.Timestamp, opts ...WriteOption) error {
	return s.update(opCtx, "setOplogDeleteFromPoint", newWriteConfig(opts), func(doc domain.Document) (domain.Document, bool) {
		return domain.Set(doc, OplogDeleteFromPointFieldName, ts), true
	})
}

func newWriteConfig(opts []WriteOption) writeConfig {
	var cfg writeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func setOpTime(doc domain.Document, ot domain.OpTime) domain.Document {
	doc = domain.Set(doc, domain.OpTimeTimestampField, ot.Timestamp)
	return domain.Set(doc, domain.OpTimeTermField, ot.Term)
}

// readOpTime reads {ts, t} from doc. Missing or malformed values read as the null optime.
func (s *MinValidStore) readOpTime(opCtx *storage.OperationContext, doc domain.Document, what string) domain.OpTime {
	if doc == nil {
		return domain.NullOpTime
	}
	ot, err := domain.OpTimeFromDocument(doc)
	if err != nil {
		if domain.CodeOf(err) != domain.CodeNoSuchKey {
			s.logger.Warn("ignoring malformed min valid optime",
				"op", opCtx.Name(), "ns", s.ns.String(), "field", what, "error", err)
		}
		return domain.NullOpTime
	}
	return ot
}

// find returns the collection (nil if missing) and its first record.
func (s *MinValidStore) find() (*storage.Collection, domain.Record, bool, error) {
	coll, err := s.engine.LookupCollection(s.ns)
	if err != nil {
		if errors.Is(err, domain.ErrNamespaceNotFound) {
			return nil, domain.Record{}, false, nil
		}
		return nil, domain.Record{}, false, err
	}
	rec, found, err := coll.RecordCursor(domain.Forward).Next()
	return coll, rec, found, err
}

// update applies mutate to the current document, creating the collection and the document
// when they do not exist yet. mutate reports whether anything changed.
func (s *MinValidStore) update(opCtx *storage.OperationContext, opName string, cfg writeConfig,
	mutate func(domain.Document) (domain.Document, bool)) error {
	changed := false
	err := withWriteUnit(opCtx, opName, s.ns, func() error {
		coll, rec, found, err := s.find()
		if err != nil {
			return err
		}
		current := domain.Document{{Key: domain.IDField, Value: bson.NewObjectID()}}
		if found {
			current = domain.Clone(rec.Doc)
		}
		updated, ok := mutate(current)
		if changed = ok; !ok {
			return nil
		}
		if coll == nil {
			if coll, err = s.engine.CreateCollection(opCtx, s.ns, domain.CollectionOptions{}); err != nil {
				return err
			}
		}
		if found {
			return coll.UpdateRecord(opCtx, rec.ID, updated)
		}
		_, err = coll.InsertDocument(opCtx, updated)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to %s in %s", opName, s.ns)
	}
	if changed && cfg.waitForDurable {
		if err := opCtx.RecoveryUnit().WaitUntilDurable(); err != nil {
			return errors.Wrapf(err, "failed to wait for %s to be durable", opName)
		}
	}
	return nil
}
