package storage

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/indexing"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DurabilityLevel represents the level of durability guarantee for committed units of work
type DurabilityLevel int

const (
	DurabilityNone   DurabilityLevel = iota // WAL buffered in process, flushed on WaitUntilDurable/checkpoint
	DurabilityMemory                        // Same as None; kept for configuration compatibility
	DurabilityOS                            // Written to the OS page cache on every commit (default)
	DurabilityFull                          // fsync on every commit
)

func (d DurabilityLevel) String() string {
	switch d {
	case DurabilityNone:
		return "none"
	case DurabilityMemory:
		return "memory"
	case DurabilityOS:
		return "os"
	case DurabilityFull:
		return "full"
	}
	return "unknown"
}

// ParseDurabilityLevel accepts the names returned by String.
func ParseDurabilityLevel(s string) (DurabilityLevel, error) {
	for _, d := range []DurabilityLevel{DurabilityNone, DurabilityMemory, DurabilityOS, DurabilityFull} {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return DurabilityOS, errors.Newf("unknown durability level %q", s)
}

// WALOpType represents the type of a logical operation in a WAL entry
type WALOpType uint8

const (
	WALOpCreateCollection WALOpType = iota + 1
	WALOpDropCollection
	WALOpInsert
	WALOpUpdate
	WALOpDelete
	WALOpStartIndexBuild
	WALOpIndexReady
	WALOpDropIndex
	WALOpCreateIndex
)

// WALOp is one logical change made inside a unit of work
type WALOp struct {
	Type    WALOpType                 `msgpack:"t"`
	NS      string                    `msgpack:"ns"`
	UUID    string                    `msgpack:"uuid,omitempty"`
	RID     int64                     `msgpack:"rid,omitempty"`
	Doc     []byte                    `msgpack:"doc,omitempty"` // raw BSON document or index spec
	Index   string                    `msgpack:"idx,omitempty"`
	Options *domain.CollectionOptions `msgpack:"opts,omitempty"`
}

// WALEntry is everything a single outermost unit of work committed
type WALEntry struct {
	LSN       int64   `msgpack:"lsn"` // Log Sequence Number
	Timestamp int64   `msgpack:"ts"`
	Ops       []WALOp `msgpack:"ops"`
}

// StorageStats holds performance and health statistics
type StorageStats struct {
	Databases            int           `json:"databases"`
	Collections          int           `json:"collections"`
	UnitsCommitted       int64         `json:"units_committed"`
	UnitsRolledBack      int64         `json:"units_rolled_back"`
	WriteConflicts       int64         `json:"write_conflicts"`
	DurableWaits         int64         `json:"durable_waits"`
	WALEntriesWritten    int64         `json:"wal_entries_written"`
	WALBytesWritten      int64         `json:"wal_bytes_written"`
	CheckpointsPerformed int64         `json:"checkpoints_performed"`
	LastCheckpoint       time.Time     `json:"last_checkpoint"`
	RecoveryTime         time.Duration `json:"recovery_time_ns"`
	Ephemeral            bool          `json:"ephemeral"`
}

// StorageEngine is an in-process transactional record/index store. With a data directory it
// is durable through a write-ahead log and periodic checkpoints; without one it is ephemeral.
type StorageEngine struct {
	// Core components
	walEngine     *WALEngine
	checkpointMgr *CheckpointManager
	recoveryMgr   *RecoveryManager
	logger        *slog.Logger

	// Configuration
	dataDir            string
	checkpointInterval time.Duration
	durabilityLevel    DurabilityLevel
	maxWALSize         int64

	// Catalog and data. mu guards everything reachable from databases, plus the intent table.
	mu            sync.RWMutex
	quiesced      *sync.Cond // signalled when activeUnits drops to zero or a checkpoint finishes
	databases     map[string]*database
	intents       map[string]map[domain.RecordID]*RecoveryUnit
	activeUnits   int
	checkpointing bool

	// Test fail point: the next N outermost commits fail with WriteConflict.
	injectedConflicts int

	// Background workers
	backgroundWg   sync.WaitGroup
	stopChan       chan struct{}
	checkpointKick chan struct{}
	stopOnce       sync.Once
	closed         bool

	// Statistics
	stats   *StorageStats
	statsMu sync.RWMutex
}

type database struct {
	name        string
	collections map[string]*Collection
}

// record is one stored document; raw is immutable once stored.
type record struct {
	id  domain.RecordID
	raw bson.Raw
}

// Collection is a record store plus its index catalog.
type Collection struct {
	engine   *StorageEngine
	ns       domain.Namespace
	uuid     uuid.UUID
	options  domain.CollectionOptions
	records  *btree.BTreeG[record]
	nextRID  domain.RecordID
	dataSize int64
	indexes  []*indexEntry
	dropped  bool
}

// indexEntry is one index catalog slot. index is nil while a build is in progress.
type indexEntry struct {
	spec  domain.IndexSpec
	index *indexing.Index
	ready bool
}

// WALEngine manages the write-ahead log
type WALEngine struct {
	walDir          string
	durabilityLevel DurabilityLevel
	currentLSN      int64
	walFile         *WALFile
	logger          *slog.Logger
	mu              sync.Mutex
}

// WALFile represents an open WAL file
type WALFile struct {
	Path     string
	File     *os.File
	Position int64
	Entries  int64
	FirstLSN int64
	buffered []byte
}

// CheckpointManager handles periodic checkpointing
type CheckpointManager struct {
	engine         *StorageEngine
	interval       time.Duration
	maxWALSize     int64
	checkpointDir  string
	lastCheckpoint time.Time
	mu             sync.Mutex
}

// RecoveryManager handles startup recovery
type RecoveryManager struct {
	engine *StorageEngine
}
