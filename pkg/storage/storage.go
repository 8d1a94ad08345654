package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/cockroachdb/errors"
)

const (
	walDirName        = "wal"
	checkpointDirName = "checkpoint"
)

// NewStorageEngine creates a storage engine. With a data directory it recovers the last
// checkpoint plus the WAL tail and starts the checkpoint worker.
func NewStorageEngine(options ...StorageOption) (*StorageEngine, error) {
	engine := &StorageEngine{
		databases:          make(map[string]*database),
		intents:            make(map[string]map[domain.RecordID]*RecoveryUnit),
		checkpointInterval: 30 * time.Second,
		durabilityLevel:    DurabilityOS,
		maxWALSize:         100 * 1024 * 1024, // 100MB
		logger:             slog.Default(),
		stopChan:           make(chan struct{}),
		checkpointKick:     make(chan struct{}, 1),
		stats:              &StorageStats{},
	}
	engine.quiesced = sync.NewCond(&engine.mu)

	// Apply options
	for _, option := range options {
		option(engine)
	}

	if engine.dataDir == "" {
		engine.stats.Ephemeral = true
		engine.logger.Info("storage engine started", "mode", "ephemeral")
		return engine, nil
	}

	// Ensure directories exist
	walDir := filepath.Join(engine.dataDir, walDirName)
	checkpointDir := filepath.Join(engine.dataDir, checkpointDirName)
	for _, dir := range []string{walDir, checkpointDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}

	// Initialize components
	engine.walEngine = NewWALEngine(walDir, engine.durabilityLevel, engine.logger)
	engine.checkpointMgr = NewCheckpointManager(engine, checkpointDir)
	engine.recoveryMgr = NewRecoveryManager(engine)

	// Perform recovery on startup
	if err := engine.recoveryMgr.Recover(); err != nil {
		return nil, errors.Wrap(err, "recovery failed")
	}

	engine.StartBackgroundWorkers()
	engine.logger.Info("storage engine started",
		"data_dir", engine.dataDir, "durability", engine.durabilityLevel.String())
	return engine, nil
}

// IsEphemeral reports whether the engine keeps nothing on disk.
func (se *StorageEngine) IsEphemeral() bool {
	return se.walEngine == nil
}

// Logger returns the engine logger.
func (se *StorageEngine) Logger() *slog.Logger { return se.logger }

// Close stops background work, writes a final checkpoint and closes the WAL. Open units of
// work must be finished first.
func (se *StorageEngine) Close() error {
	se.mu.Lock()
	if se.closed {
		se.mu.Unlock()
		return nil
	}
	se.closed = true
	se.mu.Unlock()

	se.StopBackgroundWorkers()
	if se.IsEphemeral() {
		return nil
	}

	var result error
	if err := se.checkpointMgr.Checkpoint(); err != nil {
		result = errors.CombineErrors(result, errors.Wrap(err, "final checkpoint failed"))
	}
	if err := se.walEngine.Close(); err != nil {
		result = errors.CombineErrors(result, errors.Wrap(err, "failed to close WAL"))
	}
	se.logger.Info("storage engine closed", "data_dir", se.dataDir)
	return result
}

// Checkpoint writes a snapshot of the catalog and truncates the WAL. It waits for open units
// of work to finish. An ephemeral engine has nothing to checkpoint.
func (se *StorageEngine) Checkpoint() error {
	if se.IsEphemeral() {
		return nil
	}
	return se.checkpointMgr.Checkpoint()
}

// InjectWriteConflicts makes the next n outermost commits fail with WriteConflict after
// rolling back. It exists for tests.
func (se *StorageEngine) InjectWriteConflicts(n int) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.injectedConflicts = n
}

// Stats returns a snapshot of the engine counters.
func (se *StorageEngine) Stats() StorageStats {
	se.mu.RLock()
	dbs, colls := len(se.databases), 0
	for _, db := range se.databases {
		colls += len(db.collections)
	}
	se.mu.RUnlock()

	se.statsMu.RLock()
	defer se.statsMu.RUnlock()
	s := *se.stats
	s.Databases, s.Collections = dbs, colls
	return s
}

func (se *StorageEngine) waitUntilDurable() error {
	se.updateStats(func(s *StorageStats) { s.DurableWaits++ })
	if se.IsEphemeral() {
		return nil
	}
	return se.walEngine.Sync()
}

func (se *StorageEngine) writeConflict(format string, args ...any) error {
	se.updateStats(func(s *StorageStats) { s.WriteConflicts++ })
	err := domain.NewStatus(domain.CodeWriteConflict, format, args...)
	se.logger.Debug("write conflict", "reason", domain.ReasonOf(err))
	return err
}

// maybeKickCheckpoint wakes the checkpoint worker once the WAL outgrows its limit.
func (se *StorageEngine) maybeKickCheckpoint() {
	if se.walEngine == nil || se.walEngine.Size() < se.maxWALSize {
		return
	}
	select {
	case se.checkpointKick <- struct{}{}:
	default:
	}
}

func (se *StorageEngine) updateStats(updater func(*StorageStats)) {
	se.statsMu.Lock()
	defer se.statsMu.Unlock()
	updater(se.stats)
}
