package storage

import (
	"math"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// namespaceIntent is the intent-table slot that stands for the whole namespace.
const namespaceIntent = domain.RecordID(math.MinInt64)

// OperationContext is the execution context an operation needs to talk to the engine: an id
// for diagnostics and the recovery unit that owns its transactional scope. It must be used by
// one goroutine at a time, but any goroutine may create one.
type OperationContext struct {
	id     uuid.UUID
	name   string
	engine *StorageEngine
	ru     *RecoveryUnit
}

// NewOperationContext creates a fresh execution context.
func (se *StorageEngine) NewOperationContext(name string) *OperationContext {
	opCtx := &OperationContext{id: uuid.New(), name: name, engine: se}
	opCtx.ru = &RecoveryUnit{engine: se, opCtx: opCtx}
	return opCtx
}

// ID returns the unique id of the context.
func (o *OperationContext) ID() uuid.UUID {
	return o.id
}

// Name returns the name given at creation.
func (o *OperationContext) Name() string {
	return o.name
}

// Engine returns the engine the context belongs to.
func (o *OperationContext) Engine() *StorageEngine {
	return o.engine
}

// RecoveryUnit returns the context's recovery unit.
func (o *OperationContext) RecoveryUnit() *RecoveryUnit {
	return o.ru
}

// Release rolls back any unit of work the context still has open.
func (o *OperationContext) Release() {
	if o.ru.depth > 0 {
		o.engine.logger.Warn("releasing operation context with an open unit of work",
			"op", o.name, "id", o.id)
		o.ru.rollback()
		o.ru.depth = 0
	}
}

type intentKey struct {
	ns  string
	rid domain.RecordID
}

// RecoveryUnit holds the changes of the current unit of work. Changes are applied in place and
// undone on rollback; the intents it holds make conflicting units fail with WriteConflict.
type RecoveryUnit struct {
	engine *StorageEngine
	opCtx  *OperationContext
	depth  int
	doomed bool
	undo   []func()
	ops    []WALOp
	held   []intentKey
}

// InUnitOfWork reports whether a WriteUnitOfWork is open.
func (ru *RecoveryUnit) InUnitOfWork() bool {
	return ru.depth > 0
}

// WaitUntilDurable blocks until every committed change is on stable storage.
func (ru *RecoveryUnit) WaitUntilDurable() error {
	return ru.engine.waitUntilDurable()
}

func (ru *RecoveryUnit) requireUnit(op string) error {
	if ru.depth == 0 {
		return domain.NewStatus(domain.CodeIllegalOperation, "cannot %s outside a WriteUnitOfWork", op)
	}
	return nil
}

// claimRecord takes the write intent on one record. Caller holds se.mu.
func (ru *RecoveryUnit) claimRecord(ns string, rid domain.RecordID) error {
	se := ru.engine
	slots := se.intents[ns]
	if holder, ok := slots[namespaceIntent]; ok && holder != ru {
		return se.writeConflict("namespace %s is being changed by another operation", ns)
	}
	if holder, ok := slots[rid]; ok {
		if holder != ru {
			return se.writeConflict("record %d in %s is being written by another operation", rid, ns)
		}
		return nil
	}
	ru.hold(ns, rid)
	return nil
}

// claimNamespace takes the exclusive intent on a namespace. Caller holds se.mu.
func (ru *RecoveryUnit) claimNamespace(ns string) error {
	se := ru.engine
	for rid, holder := range se.intents[ns] {
		if holder != ru {
			return se.writeConflict("namespace %s has a pending write to record %d", ns, rid)
		}
	}
	if _, ok := se.intents[ns][namespaceIntent]; !ok {
		ru.hold(ns, namespaceIntent)
	}
	return nil
}

func (ru *RecoveryUnit) hold(ns string, rid domain.RecordID) {
	se := ru.engine
	if se.intents[ns] == nil {
		se.intents[ns] = make(map[domain.RecordID]*RecoveryUnit)
	}
	se.intents[ns][rid] = ru
	ru.held = append(ru.held, intentKey{ns: ns, rid: rid})
}

func (ru *RecoveryUnit) logOp(op WALOp) {
	ru.ops = append(ru.ops, op)
}

func (ru *RecoveryUnit) onRollback(fn func()) {
	ru.undo = append(ru.undo, fn)
}

func (ru *RecoveryUnit) commit() error {
	se := ru.engine
	se.mu.Lock()
	defer se.mu.Unlock()

	if ru.doomed {
		ru.rollbackLocked()
		return domain.NewStatus(domain.CodeIllegalOperation, "a nested unit of work was rolled back")
	}
	if se.injectedConflicts > 0 {
		se.injectedConflicts--
		ru.rollbackLocked()
		return se.writeConflict("injected write conflict")
	}
	if len(ru.ops) > 0 && se.walEngine != nil {
		entry := &WALEntry{Timestamp: time.Now().UnixNano(), Ops: ru.ops}
		n, err := se.walEngine.WriteEntry(entry)
		if err != nil {
			ru.rollbackLocked()
			return errors.Wrap(err, "failed to write WAL entry")
		}
		se.updateStats(func(s *StorageStats) {
			s.WALEntriesWritten++
			s.WALBytesWritten += int64(n)
		})
		se.maybeKickCheckpoint()
	}
	ru.finishLocked()
	se.updateStats(func(s *StorageStats) { s.UnitsCommitted++ })
	return nil
}

func (ru *RecoveryUnit) rollback() {
	ru.engine.mu.Lock()
	defer ru.engine.mu.Unlock()
	ru.rollbackLocked()
}

func (ru *RecoveryUnit) rollbackLocked() {
	for i := len(ru.undo) - 1; i >= 0; i-- {
		ru.undo[i]()
	}
	ru.finishLocked()
	ru.engine.updateStats(func(s *StorageStats) { s.UnitsRolledBack++ })
}

func (ru *RecoveryUnit) finishLocked() {
	se := ru.engine
	for _, k := range ru.held {
		if slots := se.intents[k.ns]; slots != nil && slots[k.rid] == ru {
			delete(slots, k.rid)
			if len(slots) == 0 {
				delete(se.intents, k.ns)
			}
		}
	}
	ru.held = ru.held[:0]
	ru.undo = nil
	ru.ops = nil
	ru.doomed = false
	se.activeUnits--
	if se.activeUnits == 0 {
		se.quiesced.Broadcast()
	}
}

// WriteUnitOfWork scopes a set of writes that commit or roll back together. Units nest; only
// the outermost commit makes changes durable, and an uncommitted inner unit dooms the outer one.
type WriteUnitOfWork struct {
	ru        *RecoveryUnit
	toplevel  bool
	committed bool
	closed    bool
}

// BeginWriteUnitOfWork opens a unit of work on opCtx. The caller must Close it.
func BeginWriteUnitOfWork(opCtx *OperationContext) *WriteUnitOfWork {
	ru := opCtx.ru
	if ru.depth == 0 {
		se := ru.engine
		se.mu.Lock()
		for se.checkpointing {
			se.quiesced.Wait()
		}
		se.activeUnits++
		se.mu.Unlock()
	}
	ru.depth++
	return &WriteUnitOfWork{ru: ru, toplevel: ru.depth == 1}
}

// Commit commits the unit. For the outermost unit this writes the WAL entry; on failure the
// unit has already been rolled back.
func (w *WriteUnitOfWork) Commit() error {
	if w.committed || w.closed {
		return errors.AssertionFailedf("unit of work committed twice or after close")
	}
	w.committed = true
	if !w.toplevel {
		return nil
	}
	return w.ru.commit()
}

// Close ends the unit, rolling it back unless it committed.
func (w *WriteUnitOfWork) Close() {
	if w.closed {
		return
	}
	w.closed = true
	if w.ru.depth == 0 {
		// The operation context was released underneath this unit.
		return
	}
	w.ru.depth--
	if w.committed {
		return
	}
	if !w.toplevel {
		w.ru.doomed = true
		return
	}
	w.ru.rollback()
}
