package storage

import (
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(engine *StorageEngine) *RecoveryManager {
	return &RecoveryManager{
		engine: engine,
	}
}

// Recover loads the newest checkpoint, replays the WAL entries written after it and drops
// index builds that never finished.
func (rm *RecoveryManager) Recover() error {
	start := time.Now()
	se := rm.engine

	// Load latest checkpoint
	checkpoint, err := se.checkpointMgr.LoadCheckpoint()
	if err != nil {
		return err
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	startLSN := int64(0)
	if checkpoint != nil {
		if err := se.restoreSnapshotLocked(checkpoint); err != nil {
			return errors.Wrap(err, "failed to restore from checkpoint")
		}
		startLSN = checkpoint.LSN
		se.logger.Info("restored checkpoint", "lsn", checkpoint.LSN, "collections", len(checkpoint.Collections))
	}

	// Replay WAL entries since checkpoint
	lastLSN, replayed, err := rm.replayWALLocked(startLSN)
	if err != nil {
		return err
	}
	se.walEngine.SetCurrentLSN(lastLSN)

	dropped := rm.dropUnfinishedIndexesLocked()

	elapsed := time.Since(start)
	se.updateStats(func(s *StorageStats) { s.RecoveryTime = elapsed })
	se.logger.Info("recovery completed",
		"replayed_entries", replayed, "last_lsn", lastLSN, "dropped_index_builds", dropped, "duration", elapsed)
	return nil
}

func (rm *RecoveryManager) replayWALLocked(startLSN int64) (int64, int, error) {
	walFiles, err := rm.engine.walEngine.WALFiles()
	if err != nil {
		return 0, 0, err
	}

	lastLSN, replayed := startLSN, 0
	for _, walFile := range walFiles {
		entries, err := rm.engine.walEngine.ReadEntries(walFile)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "failed to read WAL file %s", walFile)
		}
		for _, entry := range entries {
			if entry.LSN <= lastLSN {
				continue
			}
			for i := range entry.Ops {
				if err := rm.replayOpLocked(&entry.Ops[i]); err != nil {
					return 0, 0, errors.Wrapf(err, "failed to replay WAL entry LSN %d", entry.LSN)
				}
			}
			lastLSN = entry.LSN
			replayed++
		}
	}
	return lastLSN, replayed, nil
}

// replayOpLocked applies one logged operation straight to the catalog.
func (rm *RecoveryManager) replayOpLocked(op *WALOp) error {
	se := rm.engine
	ns, err := domain.ParseNamespace(op.NS)
	if err != nil {
		return err
	}

	if op.Type == WALOpCreateCollection {
		if se.lookupLocked(ns) != nil {
			return errors.Newf("collection %s already exists", ns)
		}
		id, err := uuid.Parse(op.UUID)
		if err != nil {
			return errors.Wrapf(err, "invalid uuid for %s", ns)
		}
		var opts domain.CollectionOptions
		if op.Options != nil {
			opts = *op.Options
		}
		_, _, err = se.createCollectionLocked(ns, id, opts)
		return err
	}

	coll := se.lookupLocked(ns)
	if coll == nil {
		return errors.Newf("collection %s does not exist", ns)
	}
	rid := domain.RecordID(op.RID)

	switch op.Type {
	case WALOpDropCollection:
		delete(se.databases[ns.DB].collections, ns.Coll)
		coll.dropped = true
		return nil

	case WALOpInsert:
		doc, err := decodeRecord(op.Doc)
		if err != nil {
			return err
		}
		if _, err := coll.indexRecordLocked(doc, rid); err != nil {
			return err
		}
		coll.putRecordLocked(record{id: rid, raw: op.Doc})
		if rid > coll.nextRID {
			coll.nextRID = rid
		}
		return nil

	case WALOpUpdate:
		old, ok := coll.records.Get(record{id: rid})
		if !ok {
			return errors.Newf("update of missing record %d in %s", rid, ns)
		}
		oldDoc, err := decodeRecord(old.raw)
		if err != nil {
			return err
		}
		doc, err := decodeRecord(op.Doc)
		if err != nil {
			return err
		}
		coll.unindexRecordLocked(oldDoc, rid)
		if _, err := coll.indexRecordLocked(doc, rid); err != nil {
			return err
		}
		coll.putRecordLocked(record{id: rid, raw: op.Doc})
		return nil

	case WALOpDelete:
		old, ok := coll.records.Get(record{id: rid})
		if !ok {
			return errors.Newf("delete of missing record %d in %s", rid, ns)
		}
		oldDoc, err := decodeRecord(old.raw)
		if err != nil {
			return err
		}
		coll.unindexRecordLocked(oldDoc, rid)
		coll.removeRecordLocked(rid)
		return nil

	case WALOpStartIndexBuild:
		spec, err := decodeIndexSpec(op.Doc)
		if err != nil {
			return err
		}
		coll.indexes = append(coll.indexes, &indexEntry{spec: spec})
		return nil

	case WALOpIndexReady:
		e := coll.findIndexLocked(op.Index, true)
		if e == nil {
			return errors.Newf("index build %s on %s is not registered", op.Index, ns)
		}
		idx, err := coll.buildIndexLocked(e.spec)
		if err != nil {
			return err
		}
		e.index, e.ready = idx, true
		return nil

	case WALOpCreateIndex:
		spec, err := decodeIndexSpec(op.Doc)
		if err != nil {
			return err
		}
		idx, err := coll.buildIndexLocked(spec)
		if err != nil {
			return err
		}
		coll.indexes = append(coll.indexes, &indexEntry{spec: spec, index: idx, ready: true})
		return nil

	case WALOpDropIndex:
		if e := coll.findIndexLocked(op.Index, true); e != nil {
			coll.removeIndexEntryLocked(e)
		}
		return nil
	}
	return errors.Newf("unknown WAL op type: %d", op.Type)
}

// dropUnfinishedIndexesLocked removes index builds that were in progress at the crash.
func (rm *RecoveryManager) dropUnfinishedIndexesLocked() int {
	dropped := 0
	for _, db := range rm.engine.databases {
		for _, coll := range db.collections {
			kept := coll.indexes[:0]
			for _, e := range coll.indexes {
				if e.ready {
					kept = append(kept, e)
					continue
				}
				dropped++
				rm.engine.logger.Info("dropping unfinished index build", "ns", coll.ns.String(), "index", e.spec.Name)
			}
			coll.indexes = kept
		}
	}
	return dropped
}
