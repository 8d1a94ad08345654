package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(engine *StorageEngine, checkpointDir string) *CheckpointManager {
	return &CheckpointManager{
		engine:         engine,
		interval:       engine.checkpointInterval,
		maxWALSize:     engine.maxWALSize,
		checkpointDir:  checkpointDir,
		lastCheckpoint: time.Now(),
	}
}

// Run is the checkpoint worker: it checkpoints on every tick and whenever a commit reports
// that the WAL has outgrown its limit.
func (cm *CheckpointManager) Run() {
	defer cm.engine.backgroundWg.Done()

	var tick <-chan time.Time
	if cm.interval > 0 {
		ticker := time.NewTicker(cm.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			cm.runLogged("interval")
		case <-cm.engine.checkpointKick:
			cm.runLogged("wal_size")
		case <-cm.engine.stopChan:
			return
		}
	}
}

func (cm *CheckpointManager) runLogged(trigger string) {
	if err := cm.Checkpoint(); err != nil {
		// Log error but continue running
		cm.engine.logger.Warn("background checkpoint failed", "trigger", trigger, "error", err)
	}
}

// Checkpoint waits for open units of work to drain, snapshots the catalog, rotates the WAL,
// writes the snapshot and removes the WAL files it covers.
func (cm *CheckpointManager) Checkpoint() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	start := time.Now()
	se := cm.engine

	se.mu.Lock()
	se.checkpointing = true
	for se.activeUnits > 0 {
		se.quiesced.Wait()
	}
	data := se.snapshotLocked(se.walEngine.CurrentLSN())
	rotateErr := se.walEngine.Rotate()
	se.checkpointing = false
	se.quiesced.Broadcast()
	se.mu.Unlock()

	if rotateErr != nil {
		return errors.Wrap(rotateErr, "failed to rotate WAL file")
	}

	// Write checkpoint to disk
	path, err := cm.writeCheckpoint(data)
	if err != nil {
		return errors.Wrap(err, "failed to write checkpoint")
	}

	// Everything up to data.LSN is in the checkpoint now
	if err := se.walEngine.RemoveFilesExceptCurrent(); err != nil {
		se.logger.Warn("failed to clean up WAL files", "error", err)
	}
	if err := cm.cleanupOldCheckpointFiles(path); err != nil {
		se.logger.Warn("failed to clean up checkpoint files", "error", err)
	}

	cm.lastCheckpoint = time.Now()
	se.updateStats(func(s *StorageStats) {
		s.CheckpointsPerformed++
		s.LastCheckpoint = cm.lastCheckpoint
	})
	se.logger.Info("checkpoint completed",
		"lsn", data.LSN, "collections", len(data.Collections), "duration", time.Since(start))
	return nil
}

func (cm *CheckpointManager) writeCheckpoint(data *checkpointData) (string, error) {
	filename := fmt.Sprintf("checkpoint_%020d%s", data.LSN, FileExtension)
	path := filepath.Join(cm.checkpointDir, filename)

	// Write to temporary file first
	tempFile := path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary checkpoint file")
	}
	if err := EncodeSnapshot(file, data); err != nil {
		file.Close()
		os.Remove(tempFile)
		return "", err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return "", errors.Wrap(err, "failed to sync checkpoint file")
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return "", errors.Wrap(err, "failed to close checkpoint file")
	}

	// Atomic rename
	if err := os.Rename(tempFile, path); err != nil {
		return "", errors.Wrap(err, "failed to rename checkpoint file")
	}
	return path, nil
}

func (cm *CheckpointManager) checkpointFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(cm.checkpointDir, "checkpoint_*"+FileExtension))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoint files")
	}
	sort.Strings(files)
	return files, nil
}

// LoadCheckpoint loads the newest checkpoint, or returns nil when there is none.
func (cm *CheckpointManager) LoadCheckpoint() (*checkpointData, error) {
	files, err := cm.checkpointFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	latest := files[len(files)-1]
	file, err := os.Open(latest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var data checkpointData
	if err := DecodeSnapshot(file, &data); err != nil {
		return nil, errors.Wrapf(err, "failed to load checkpoint %s", filepath.Base(latest))
	}
	return &data, nil
}

// cleanupOldCheckpointFiles removes every checkpoint except keep.
func (cm *CheckpointManager) cleanupOldCheckpointFiles(keep string) error {
	files, err := cm.checkpointFiles()
	if err != nil {
		return err
	}
	for _, file := range files {
		if file == keep {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to delete checkpoint file %s", file)
		}
	}
	return nil
}
