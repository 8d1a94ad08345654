package storage

import (
	"log/slog"
	"time"
)

// StorageOption configures the storage engine
type StorageOption func(*StorageEngine)

// WithDataDir sets the directory for WAL and checkpoint files. An empty directory (the default)
// makes the engine ephemeral.
func WithDataDir(dir string) StorageOption {
	return func(engine *StorageEngine) {
		engine.dataDir = dir
	}
}

// WithCheckpointInterval sets how often to perform checkpoints. Zero disables the background worker.
func WithCheckpointInterval(interval time.Duration) StorageOption {
	return func(engine *StorageEngine) {
		engine.checkpointInterval = interval
	}
}

// WithDurabilityLevel sets the durability guarantee level
func WithDurabilityLevel(level DurabilityLevel) StorageOption {
	return func(engine *StorageEngine) {
		engine.durabilityLevel = level
	}
}

// WithMaxWALSize sets the maximum WAL size before a checkpoint is forced
func WithMaxWALSize(size int64) StorageOption {
	return func(engine *StorageEngine) {
		engine.maxWALSize = size
	}
}

// WithLogger sets the engine logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) StorageOption {
	return func(engine *StorageEngine) {
		if logger != nil {
			engine.logger = logger
		}
	}
}
