package api

import (
	"log/slog"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/repl"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ReplStorage is the part of the replication storage interface the HTTP API reads from.
type ReplStorage interface {
	NewOperationContext(name string) *storage.OperationContext
	GetCollectionCount(opCtx *storage.OperationContext, ns domain.Namespace) (int64, error)
	GetCollectionSize(opCtx *storage.OperationContext, ns domain.Namespace) (int64, error)
	FindDocuments(opCtx *storage.OperationContext, ns domain.Namespace, indexName string,
		dir domain.ScanDirection, startKey bson.D, bound domain.BoundInclusion, limit int) ([]domain.Document, error)
	ListIndexes(opCtx *storage.OperationContext, ns domain.Namespace) ([]storage.IndexDescriptor, error)
	NewOplogIterator(ns domain.Namespace) (*repl.OplogIterator, error)
	MinValidNamespace() domain.Namespace
	MinValid(opCtx *storage.OperationContext) domain.OpTime
	AppliedThrough(opCtx *storage.OperationContext) domain.OpTime
	OplogDeleteFromPoint(opCtx *storage.OperationContext) bson.Timestamp
	InitialSyncFlag(opCtx *storage.OperationContext) bool
	Stats() storage.StorageStats
}

// Handler provides HTTP handlers for the inspection API
type Handler struct {
	storage ReplStorage
	logger  *slog.Logger
}

// NewHandler creates a new API handler with dependency injection
func NewHandler(storage ReplStorage, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		storage: storage,
		logger:  logger,
	}
}
