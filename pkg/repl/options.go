package repl

import (
	"log/slog"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
)

const (
	// DefaultMinValidNamespace holds the min-valid document unless configured otherwise.
	DefaultMinValidNamespace = "local.replset.minvalid"
	// DefaultOplogSize is the capped size given to collections made by CreateOplog.
	DefaultOplogSize int64 = 5 * 1024 * 1024
)

// Option configures a StorageInterface
type Option func(*StorageInterface)

// WithMinValidNamespace sets where the min-valid document lives.
func WithMinValidNamespace(ns domain.Namespace) Option {
	return func(si *StorageInterface) {
		si.minValidNS = ns
	}
}

// WithOplogSize sets the capped size in bytes used by CreateOplog.
func WithOplogSize(size int64) Option {
	return func(si *StorageInterface) {
		if size > 0 {
			si.oplogSize = size
		}
	}
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(si *StorageInterface) {
		if logger != nil {
			si.logger = logger
		}
	}
}
